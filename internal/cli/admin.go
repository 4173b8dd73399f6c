package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/membank/internal/config"
	"github.com/lazypower/membank/internal/journal"
	"github.com/lazypower/membank/internal/mood"
	"github.com/lazypower/membank/internal/rules"
	"github.com/lazypower/membank/internal/store"
)

func newRuleCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage retrieval rules",
		Long:  `Rules adjust focus scores: if tag("deploy") then weight += 0.5`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <rule>",
			Short: "Add a rule",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := rules.Parse(args[0]); err != nil {
					return err
				}
				st, err := a.openInit()
				if err != nil {
					return err
				}
				if err := st.AddRule(args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List rules in the order they were added",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.openExisting()
				if err != nil {
					return err
				}
				exprs, err := st.ListRules()
				if err != nil {
					return err
				}
				for _, r := range exprs {
					fmt.Fprintln(cmd.OutOrStdout(), r)
				}
				return nil
			},
		},
	)
	return cmd
}

func newReportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report feedback that shapes retrieval",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "mood <tag> <value>",
		Short: "Blend a mood observation for a tag into its running average",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("%w: mood value %q is not a number", store.ErrInvalidArgument, args[1])
			}
			st, err := a.openInit()
			if err != nil {
				return err
			}
			updated, err := mood.New(st, st.Config().Mood).Report(args[0], value)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", args[0], strconv.FormatFloat(updated, 'g', -1, 64))
			return nil
		},
	})
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change config.toml",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print one setting by dotted key",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.open()
				if err != nil {
					return err
				}
				v, err := config.Get(st.Config(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change one setting by dotted key",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := a.openInit()
				if err != nil {
					return err
				}
				if _, err := config.Set(st.ConfigPath(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := a.open()
				if err != nil {
					return err
				}
				text, err := config.Encode(st.Config())
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			},
		},
	)
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent activity recorded for this store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.open()
			if err != nil {
				return err
			}
			db, err := journal.Open(journal.DefaultPath(st.StateRoot()))
			if err != nil {
				return err
			}
			defer db.Close()
			events, err := db.Recent(st.Root(), limit)
			if err != nil {
				return err
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recorded activity.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", humanize.Time(e.Time()), e.Op, shortID(e.UID), e.Detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events")
	return cmd
}

func shortID(uid string) string {
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}
