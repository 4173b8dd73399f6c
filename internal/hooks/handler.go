// Package hooks adapts agent session lifecycle hooks onto membank sessions:
// SessionStart activates a session and injects recent memory as context,
// SessionEnd tears it down.
package hooks

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/lazypower/membank/internal/store"
)

// DefaultContextNodes is how many recent nodes SessionStart injects.
const DefaultContextNodes = 10

// Handler dispatches hook events. Open resolves the store for the hook's
// working directory.
type Handler struct {
	Open   func(cwd string) (*store.Store, error)
	Stdout io.Writer
	Stderr io.Writer
	Top    int
	Logger *zap.Logger
}

// Handle reads HookInput from stdin and runs the handler for event. Hooks must
// never fail the agent, so errors are reported on Stderr and swallowed.
func (h *Handler) Handle(event string, stdin io.Reader) {
	if h.Stdout == nil {
		h.Stdout = os.Stdout
	}
	if h.Stderr == nil {
		h.Stderr = os.Stderr
	}
	if h.Logger == nil {
		h.Logger = zap.NewNop()
	}

	var input HookInput
	if err := json.NewDecoder(stdin).Decode(&input); err != nil && err != io.EOF {
		h.fail(event, fmt.Errorf("decode stdin: %w", err))
		return
	}

	var err error
	switch event {
	case "start":
		err = h.handleStart(&input)
	case "end":
		err = h.handleEnd(&input)
	default:
		err = fmt.Errorf("unknown hook event: %s", event)
	}
	if err != nil {
		h.fail(event, err)
	}
}

func (h *Handler) fail(event string, err error) {
	h.Logger.Warn("hook failed", zap.String("event", event), zap.Error(err))
	fmt.Fprintf(h.Stderr, "membank hook: %v\n", err)
	if event == "start" {
		WriteSessionStartOutput(h.Stdout, "")
	}
}
