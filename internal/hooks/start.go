package hooks

import (
	"fmt"
	"strings"

	"github.com/lazypower/membank/internal/engine"
	"github.com/lazypower/membank/internal/render"
	"github.com/lazypower/membank/internal/store"
)

func (h *Handler) handleStart(input *HookInput) error {
	st, err := h.Open(input.CWD)
	if err != nil {
		return err
	}
	if !store.IsStoreDir(st.Root()) {
		return WriteSessionStartOutput(h.Stdout, "")
	}
	sess, err := st.ActivateSession(input.SessionID, "")
	if err != nil {
		return fmt.Errorf("activate session: %w", err)
	}

	nodes, err := st.AllNodes()
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	top := h.Top
	if top <= 0 {
		top = DefaultContextNodes
	}
	var fresh []store.Node
	for _, n := range engine.Latest(nodes, 0) {
		if len(fresh) == top {
			break
		}
		if !sess.Served(n.Header().UID) {
			fresh = append(fresh, n)
		}
	}
	if len(fresh) == 0 {
		return WriteSessionStartOutput(h.Stdout, "")
	}

	var b strings.Builder
	b.WriteString("<membank>\n## Recent memory\n")
	uids := make([]string, 0, len(fresh))
	for _, n := range fresh {
		b.WriteString(render.Node(n, nil, false))
		b.WriteString("\n")
		uids = append(uids, n.Header().UID)
	}
	b.WriteString("</membank>")

	if _, err := st.RecordServed(sess, uids); err != nil {
		return fmt.Errorf("record served: %w", err)
	}
	return WriteSessionStartOutput(h.Stdout, b.String())
}
