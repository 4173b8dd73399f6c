package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lazypower/membank/internal/hooks"
	"github.com/lazypower/membank/internal/store"
)

func newHookCmd(a *app) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Handle agent session hook events",
	}
	cmd.PersistentFlags().IntVar(&top, "top", hooks.DefaultContextNodes, "nodes injected on session start")

	handle := func(event string) func(*cobra.Command, []string) {
		return func(cmd *cobra.Command, _ []string) {
			h := &hooks.Handler{
				Open:   a.hookStore,
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
				Top:    top,
				Logger: a.log(),
			}
			h.Handle(event, cmd.InOrStdin())
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "start",
			Short: "Handle SessionStart: activate a session and inject recent memory",
			Args:  cobra.NoArgs,
			Run:   handle("start"),
		},
		&cobra.Command{
			Use:   "end",
			Short: "Handle SessionEnd: tear down the session",
			Args:  cobra.NoArgs,
			Run:   handle("end"),
		},
	)
	return cmd
}

// hookStore opens the store for a hook. A relative --path is taken relative
// to the agent's working directory.
func (a *app) hookStore(cwd string) (*store.Store, error) {
	path := a.path
	if cwd != "" && !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	return store.Open(path, store.WithLogger(a.log()))
}
