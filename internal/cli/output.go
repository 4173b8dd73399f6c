package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/membank/internal/engine"
	"github.com/lazypower/membank/internal/federation"
	"github.com/lazypower/membank/internal/render"
	"github.com/lazypower/membank/internal/store"
)

// listed is one node to print, with its score when ranked.
type listed struct {
	node  store.Node
	score *float64
}

func fromNodes(nodes []store.Node) []listed {
	out := make([]listed, len(nodes))
	for i, n := range nodes {
		out[i] = listed{node: n}
	}
	return out
}

func fromRanked(ranked []engine.Ranked) []listed {
	out := make([]listed, len(ranked))
	for i, r := range ranked {
		score := r.Score
		out[i] = listed{node: r.Node, score: &score}
	}
	return out
}

// emit prints items through the session's served filter: nodes the session
// has already seen print as a header only, and the rest are recorded as
// served once printing is done.
func (a *app) emit(cmd *cobra.Command, st *store.Store, items []listed) error {
	sess, err := a.activeSession(st)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	p := render.NewPrinter(cmd.OutOrStdout())
	seen := map[string]bool{}
	var fresh []string
	for _, it := range items {
		uid := it.node.Header().UID
		served := sess != nil && (sess.Served(uid) || seen[uid])
		p.Node(it.node, it.score, served)
		if sess != nil && !served {
			seen[uid] = true
			fresh = append(fresh, uid)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if _, err := st.RecordServed(sess, fresh); err != nil {
		return fmt.Errorf("record served: %w", err)
	}
	a.log().Debug("served nodes", zap.String("session", sess.ID), zap.Int("count", len(fresh)))
	return nil
}

// fed returns the federation service rooted at st.
func (a *app) fed(st *store.Store) *federation.Service {
	return federation.New(st.Root(), st.Config().Federation,
		federation.WithLogger(a.log()),
		federation.WithStoreOptions(store.WithLogger(a.log())),
	)
}

// source returns the graph source for retrieval: every discovered bank with
// --federated, the store alone otherwise.
func (a *app) source(st *store.Store) engine.Source {
	if a.federated {
		return engine.FederatedSource{Service: a.fed(st)}
	}
	return engine.LocalSource{Store: st}
}
