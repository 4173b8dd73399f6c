package engine

import (
	"fmt"
	"sort"

	"github.com/lazypower/membank/internal/config"
	"github.com/lazypower/membank/internal/federation"
	"github.com/lazypower/membank/internal/rules"
	"github.com/lazypower/membank/internal/store"
)

// Graph is the node and link set a query ranks over.
type Graph struct {
	Nodes       []store.Node
	Links       []*store.Link
	Multipliers map[string]float64
}

// Source loads the graph for a query.
type Source interface {
	Graph(queryTags []string) (*Graph, error)
}

// LocalSource reads a single store.
type LocalSource struct {
	Store *store.Store
}

func (l LocalSource) Graph([]string) (*Graph, error) {
	nodes, err := l.Store.AllNodes()
	if err != nil {
		return nil, err
	}
	links, err := l.Store.AllLinks()
	if err != nil {
		return nil, err
	}
	return &Graph{Nodes: nodes, Links: links}, nil
}

// FederatedSource reads every bank a federation service discovers.
type FederatedSource struct {
	Service *federation.Service
}

func (f FederatedSource) Graph(queryTags []string) (*Graph, error) {
	agg, err := f.Service.AggregateForFocus(queryTags)
	if err != nil {
		return nil, err
	}
	return &Graph{Nodes: agg.Nodes, Links: agg.Links, Multipliers: agg.Multipliers}, nil
}

// Ranked is a Result with its node.
type Ranked struct {
	Result
	Node store.Node
}

// Focus ranks src against queryTags using the retrieval settings, mood and
// rules of st. A limit <= 0 uses the configured default.
func Focus(st *store.Store, src Source, queryTags []string, limit int) ([]Ranked, error) {
	g, err := src.Graph(queryTags)
	if err != nil {
		return nil, err
	}
	opts, err := StoreOptions(st, limit)
	if err != nil {
		return nil, err
	}
	opts.Multipliers = g.Multipliers
	return attach(Retrieve(g.Nodes, g.Links, queryTags, opts), g.Nodes), nil
}

// StoreOptions builds retrieval Options from st's config, mood and rules.
func StoreOptions(st *store.Store, limit int) (Options, error) {
	cfg := st.Config()
	mood, err := st.LoadMood()
	if err != nil {
		return Options{}, fmt.Errorf("load mood: %w", err)
	}
	exprs, err := st.ListRules()
	if err != nil {
		return Options{}, fmt.Errorf("load rules: %w", err)
	}
	eng, err := rules.New(exprs)
	if err != nil {
		return Options{}, err
	}
	opts := NewOptions(cfg, limit)
	opts.Mood = mood
	opts.Rules = eng
	return opts, nil
}

// NewOptions returns Options carrying cfg's retrieval and mood settings.
func NewOptions(cfg config.Config, limit int) Options {
	if limit <= 0 {
		limit = cfg.Retrieval.DefaultLimit
	}
	return Options{
		Limit:               limit,
		ResistanceThreshold: cfg.Retrieval.ResistanceThreshold,
		MoodDefault:         cfg.Mood.Default,
	}
}

// ForContext ranks src for a parsed forctx query.
func ForContext(src Source, q Query, top int) ([]Ranked, error) {
	g, err := src.Graph(q.Tags)
	if err != nil {
		return nil, err
	}
	return attach(ScoreForContext(g.Nodes, q, top), g.Nodes), nil
}

// Latest returns the top most recently updated nodes, newest first.
func Latest(nodes []store.Node, top int) []store.Node {
	out := append([]store.Node(nil), nodes...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Header().UpdatedAt.After(out[j].Header().UpdatedAt)
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

func attach(results []Result, nodes []store.Node) []Ranked {
	byUID := make(map[string]store.Node, len(nodes))
	for _, n := range nodes {
		byUID[n.Header().UID] = n
	}
	out := make([]Ranked, 0, len(results))
	for _, r := range results {
		if n, ok := byUID[r.UID]; ok {
			out = append(out, Ranked{Result: r, Node: n})
		}
	}
	return out
}
