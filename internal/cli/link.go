package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/membank/internal/journal"
	"github.com/lazypower/membank/internal/store"
)

func newLinkCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Manage directional links between nodes",
	}
	cmd.AddCommand(
		newLinkAddCmd(a),
		newLinkListCmd(a),
		newLinkWeightCmd(a),
		newLinkChainCmd(a),
		newLinkTouchCmd(a),
		newLinkDecayCmd(a),
	)
	return cmd
}

func newLinkAddCmd(a *app) *cobra.Command {
	var (
		tags   string
		weight float64
	)
	cmd := &cobra.Command{
		Use:   "add <source-uid> <target-uid>",
		Short: "Link source to target and print the link uid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			src, err := a.resolve(st, args[0])
			if err != nil {
				return err
			}
			tgt, err := a.resolve(st, args[1])
			if err != nil {
				return err
			}
			uid, err := st.SaveLink(store.NewLink(src, tgt, splitList(tags), weight))
			if err != nil {
				return fmt.Errorf("save link: %w", err)
			}
			a.record(st, journal.OpLinkAdd, uid, src+" -> "+tgt)
			fmt.Fprintln(cmd.OutOrStdout(), uid)
			return nil
		},
	}
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated link tags")
	cmd.Flags().Float64Var(&weight, "weight", 1.0, "initial link weight")
	return cmd
}

func newLinkListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <source-uid>",
		Short: "List the outgoing links of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			var links []*store.Link
			if a.federated {
				links, err = a.fed(st).AggregateLinksBySourceUID(args[0])
			} else {
				var src string
				if src, err = a.resolve(st, args[0]); err == nil {
					links, err = st.LoadLinks([]string{src})
				}
			}
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "Node not found: %s\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			for _, l := range links {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (%s) w=%s\n",
					l.Source, l.Target, strings.Join(l.Tags, ","), strconv.FormatFloat(l.Weight, 'g', -1, 64))
			}
			return nil
		},
	}
}

func newLinkWeightCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "weight <tags> <delta>",
		Short: "Add delta to the weight of links carrying every given tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("%w: delta %q is not a number", store.ErrInvalidArgument, args[1])
			}
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			n, err := st.AdjustLinkWeightsByTags(splitList(args[0]), delta)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newLinkChainCmd(a *app) *cobra.Command {
	var (
		tags   string
		weight float64
	)
	cmd := &cobra.Command{
		Use:   "chain <uid> <uid>...",
		Short: "Link each node to the next in order",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			uids := make([]string, len(args))
			for i, token := range args {
				if uids[i], err = a.resolve(st, token); err != nil {
					return err
				}
			}
			links, err := store.Chain(uids, splitList(tags), weight)
			if err != nil {
				return err
			}
			created, err := st.SaveLinks(links)
			if err != nil {
				return fmt.Errorf("save links: %w", err)
			}
			a.record(st, journal.OpLinkChain, "", strings.Join(uids, " -> "))
			fmt.Fprintf(cmd.OutOrStdout(), "Created %d links\n", len(created))
			return nil
		},
	}
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tags for every link")
	cmd.Flags().Float64Var(&weight, "weight", 1.0, "weight for every link")
	return cmd
}

func newLinkTouchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "touch <link-uid>",
		Short: "Record a use of a link, restoring its decay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			ok, err := st.TouchLink(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: link %s", store.ErrNotFound, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newLinkDecayCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Decay links by the time since their last use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			if days <= 0 {
				days = st.Config().Decay.HalfLifeDays
			}
			n, err := st.DecayLinks(time.Duration(days)*24*time.Hour, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "half-life", 0, "half-life in days (default decay.half_life_days)")
	return cmd
}
