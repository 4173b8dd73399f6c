package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/membank/internal/engine"
	"github.com/lazypower/membank/internal/journal"
	"github.com/lazypower/membank/internal/store"
)

func newFocusCmd(a *app) *cobra.Command {
	var (
		tags  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "focus",
		Short: "Rank nodes against query tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			queryTags := splitList(tags)
			if len(queryTags) == 0 {
				return fmt.Errorf("%w: --tags needs at least one tag", store.ErrInvalidArgument)
			}
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			ranked, err := engine.Focus(st, a.source(st), queryTags, limit)
			if err != nil {
				return err
			}
			a.record(st, journal.OpFocus, "", strings.Join(queryTags, ","))
			return a.emit(cmd, st, fromRanked(ranked))
		},
	}
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated query tags")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum ranked nodes (default retrieval.default_limit)")
	return cmd
}

func newForctxCmd(a *app) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "forctx <query>",
		Short: "Rank nodes by #tag and [phrase] matches",
		Long:  "Rank nodes for a query: #tag terms match tags (weight 2), [bracketed phrases] and bare words match content (weight 1).",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if top < 1 {
				return fmt.Errorf("%w: --top must be at least 1", store.ErrInvalidArgument)
			}
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			q := engine.ParseQuery(strings.Join(args, " "))
			ranked, err := engine.ForContext(engine.LocalSource{Store: st}, q, top)
			if err != nil {
				return err
			}
			return a.emit(cmd, st, fromRanked(ranked))
		},
	}
	cmd.Flags().IntVar(&top, "top", 50, "maximum ranked nodes")
	return cmd
}

func newLastCmd(a *app) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "last",
		Short: "Show the most recently updated nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if top < 1 {
				return fmt.Errorf("%w: --top must be at least 1", store.ErrInvalidArgument)
			}
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			nodes, err := st.AllNodes()
			if err != nil {
				return err
			}
			return a.emit(cmd, st, fromNodes(engine.Latest(nodes, top)))
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "number of nodes")
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Move inbox nodes into a topic cluster and rebuild the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			name, err := st.Prune()
			if err != nil {
				return err
			}
			a.record(st, journal.OpPrune, "", name)
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a membank at --path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openInit()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized membank at %s\n", st.Root())
			return nil
		},
	}
}
