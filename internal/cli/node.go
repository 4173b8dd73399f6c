package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/membank/internal/journal"
	"github.com/lazypower/membank/internal/render"
	"github.com/lazypower/membank/internal/store"
)

func newNodeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Add, inspect and remove nodes",
	}
	cmd.AddCommand(
		newNodeAddCmd(a),
		newNodeGetCmd(a),
		newNodeListCmd(a),
		newNodeListAllCmd(a),
		newNodeStatusCmd(a),
		newNodeRemoveCmd(a),
		newNodeRemoveTypeCmd(a),
	)
	return cmd
}

// nodeFields carries the free-text flags of node add.
type nodeFields struct {
	content  string
	title    string
	summary  string
	parent   string
	status   string
	criteria []string
}

func newNodeAddCmd(a *app) *cobra.Command {
	var (
		f    nodeFields
		tags string
	)
	cmd := &cobra.Command{
		Use:   "add <type>",
		Short: "Add a node to the inbox and print its uid",
		Long: "Add a node. Types: memory, memorylink, story, feature, task, subtask, issue, bug,\n" +
			"pattern, progress, and the deprecated active and archive.\n" +
			"Tags are name[:weight] pairs separated by commas; the weight defaults to 1.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			weights, err := parseTags(tags)
			if err != nil {
				return err
			}
			st, err := a.openInit()
			if err != nil {
				return err
			}
			variant := strings.ToLower(strings.TrimSpace(args[0]))
			n, err := buildNode(a, st, variant, weights, f)
			if err != nil {
				return err
			}
			uid, err := st.SaveNode(n, variant)
			if err != nil {
				return fmt.Errorf("save node: %w", err)
			}
			a.record(st, journal.OpNodeAdd, uid, variant)
			if err := a.autoPrune(st); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uid)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.content, "content", "", "node content")
	cmd.Flags().StringVar(&f.title, "title", "", "title, role, component, pattern type or focus area depending on type")
	cmd.Flags().StringVar(&f.summary, "summary", "", "summary, benefit, test scenario or archive reason depending on type")
	cmd.Flags().StringVar(&f.parent, "parent", "", "parent uid of a subtask")
	cmd.Flags().StringVar(&f.status, "status", string(store.StatusTodo), "initial status: todo, in_progress, done or blocked")
	cmd.Flags().StringArrayVar(&f.criteria, "criteria", nil, "acceptance criterion of a story (repeatable)")
	cmd.Flags().StringVar(&tags, "tags", "", "tags as name[:weight],...")
	return cmd
}

// parseTags reads "name[:weight],..." into a weight map. The last colon
// separates the weight so tag names may contain colons.
func parseTags(raw string) (map[string]float64, error) {
	tags := map[string]float64{}
	for _, item := range splitList(raw) {
		name, weight := item, 1.0
		if i := strings.LastIndex(item, ":"); i >= 0 {
			w, err := strconv.ParseFloat(strings.TrimSpace(item[i+1:]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: tag %q has a bad weight", store.ErrInvalidArgument, item)
			}
			name, weight = strings.TrimSpace(item[:i]), w
		}
		if name == "" {
			return nil, fmt.Errorf("%w: empty tag name in %q", store.ErrInvalidArgument, raw)
		}
		tags[name] = weight
	}
	return tags, nil
}

func buildNode(a *app, st *store.Store, variant string, tags map[string]float64, f nodeFields) (store.Node, error) {
	status, err := store.ParseStatus(f.status)
	if err != nil {
		return nil, err
	}
	t := store.Type(variant)
	switch variant {
	case store.VariantActive, store.VariantArchive:
		t = store.TypeProgress
	default:
		if t, err = store.ParseType(variant); err != nil {
			return nil, err
		}
	}

	n := store.New(t, tags)
	if sn, ok := n.(store.StatusNode); ok {
		sn.Tracking().Status = status
	}
	switch v := n.(type) {
	case *store.Memory:
		v.Content = f.content
	case *store.MemoryLink:
		path, err := st.CreateMemoryFile(f.title, f.content)
		if err != nil {
			return nil, err
		}
		rel, err := filepath.Rel(st.Root(), path)
		if err != nil {
			return nil, fmt.Errorf("relative memory path: %w", err)
		}
		v.Title, v.Summary, v.FilePath = f.title, f.summary, filepath.ToSlash(rel)
	case *store.Story:
		v.Role = f.title
		v.Benefit = firstNonEmpty(f.summary, f.content)
		v.Criteria = append([]string{}, f.criteria...)
	case *store.Feature:
		v.Component = firstNonEmpty(f.title, "component")
		v.TestScenario = firstNonEmpty(f.summary, "scenario")
		v.ExpectedResult = firstNonEmpty(f.content, "result")
	case *store.SubTask:
		v.Content = f.content
		if f.parent != "" {
			if v.Parent, err = a.resolve(st, f.parent); err != nil {
				return nil, err
			}
		}
	case *store.Pattern:
		v.Content, v.PatternType = f.content, f.title
	case *store.Progress:
		v.Content = f.content
		extra := map[string]any{}
		switch variant {
		case store.VariantActive:
			if f.title != "" {
				extra["focus_area"] = f.title
			}
		case store.VariantArchive:
			if f.title != "" {
				extra["archived_from"] = f.title
			}
			if f.summary != "" {
				extra["reason"] = f.summary
			}
		}
		if len(extra) > 0 {
			v.Extra = extra
		}
	default:
		store.SetContent(n, f.content)
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// autoPrune runs Prune once the inbox reaches prune.auto_threshold.
func (a *app) autoPrune(st *store.Store) error {
	threshold := st.Config().Prune.AutoThreshold
	if threshold <= 0 {
		return nil
	}
	idx, err := st.LoadIndex()
	if err != nil {
		return err
	}
	meta := idx.Clusters[store.InboxCluster]
	if meta == nil || meta.Size < threshold {
		return nil
	}
	name, err := st.Prune()
	if err != nil {
		return fmt.Errorf("auto prune: %w", err)
	}
	a.log().Info("inbox auto-pruned", zap.String("cluster", name), zap.Int("inbox_size", meta.Size))
	a.record(st, journal.OpPrune, "", name)
	return nil
}

func newNodeGetCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "get <uid>",
		Short: "Show every field of one node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmtKind, err := render.ParseFormat(format)
			if err != nil {
				return err
			}
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			var n store.Node
			if a.federated {
				n, err = a.fed(st).AggregateNodeByUID(args[0])
			} else {
				var uid string
				if uid, err = a.resolve(st, args[0]); err == nil {
					n, err = st.LoadNode(uid)
				}
			}
			if errors.Is(err, store.ErrNotFound) || (err == nil && n == nil) {
				fmt.Fprintf(cmd.OutOrStdout(), "Node not found: %s\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			return render.Encode(cmd.OutOrStdout(), n, fmtKind)
		},
	}
	cmd.Flags().StringVar(&format, "format", string(render.FormatText), "output format: text, json or yaml")
	return cmd
}

func newNodeListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <type>",
		Short: "List nodes of one type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := store.ParseType(args[0])
			if err != nil {
				return err
			}
			return a.listNodes(cmd, t)
		},
	}
}

func newNodeListAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list-all",
		Short: "List every node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listNodes(cmd, "")
		},
	}
}

// listNodes prints the nodes of type t, or all nodes when t is empty.
func (a *app) listNodes(cmd *cobra.Command, t store.Type) error {
	st, err := a.openExisting()
	if err != nil {
		return err
	}
	var nodes []store.Node
	switch {
	case a.federated:
		nodes, err = a.fed(st).AggregateNodes(t)
	case t == "":
		nodes, err = st.AllNodes()
	default:
		nodes, err = st.LoadNodesByType(t)
	}
	if err != nil {
		return err
	}
	return a.emit(cmd, st, fromNodes(nodes))
}

func newNodeStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <uid> <todo|in_progress|done|blocked>",
		Short: "Set the status of a status-bearing node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := store.ParseStatus(args[1])
			if err != nil {
				return err
			}
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			uid, err := a.resolve(st, args[0])
			if err != nil {
				return err
			}
			ok, err := st.UpdateNodeStatus(uid, status)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: node %s has no status field", store.ErrInvalidArgument, uid)
			}
			a.record(st, journal.OpNodeStatus, uid, string(status))
			fmt.Fprintf(cmd.OutOrStdout(), "Status updated to %s\n", status)
			return nil
		},
	}
}

func newNodeRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <uid>",
		Short: "Remove a node and its links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			uid, err := a.resolve(st, args[0])
			if err != nil {
				return err
			}
			ok, err := st.RemoveNode(uid)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: node %s", store.ErrNotFound, uid)
			}
			a.record(st, journal.OpNodeRemove, uid, "")
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", uid)
			return nil
		},
	}
}

func newNodeRemoveTypeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove-type <type>",
		Short: "Remove every node of one type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := store.ParseType(args[0])
			if err != nil {
				return err
			}
			st, err := a.openExisting()
			if err != nil {
				return err
			}
			n, err := st.RemoveNodesByType(t)
			if err != nil {
				return err
			}
			a.record(st, journal.OpNodeRemove, "", fmt.Sprintf("%s x%d", t, n))
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s nodes\n", n, t)
			return nil
		},
	}
}
