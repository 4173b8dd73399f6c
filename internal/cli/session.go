package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage which nodes the current session has already seen",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Start or reuse the active session and print its id",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.openInit()
				if err != nil {
					return err
				}
				sess, err := st.ActivateSession(a.session, envOr("MEMBANK_SESSION", ""))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "tear",
			Short: "End the active session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.open()
				if err != nil {
					return err
				}
				id, err := st.ClearSession()
				if err != nil {
					return err
				}
				if id == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "No active session.")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Session cleared.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Forget which nodes the active session has seen",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.open()
				if err != nil {
					return err
				}
				sess, err := st.ResetSession("")
				if err != nil {
					return err
				}
				if sess == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No active session.")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "info",
			Short: "Show the active session",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.open()
				if err != nil {
					return err
				}
				sess, err := st.LoadActiveSession()
				if err != nil {
					return err
				}
				if sess == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "No active session.")
					return nil
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "session_id=%s\n", sess.ID)
				fmt.Fprintf(out, "age_seconds=%d\n", int(time.Since(sess.CreatedAt).Seconds()))
				fmt.Fprintf(out, "served_count=%d\n", len(sess.ServedUIDs))
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List the sessions of this store, most recent first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.open()
				if err != nil {
					return err
				}
				sessions, active, err := st.ListSessions()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "\tID\tSTARTED\tSERVED")
				for _, sess := range sessions {
					mark := ""
					if sess.ID == active {
						mark = "*"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", mark, sess.ID, humanize.Time(sess.CreatedAt), len(sess.ServedUIDs))
				}
				return w.Flush()
			},
		},
	)
	return cmd
}
