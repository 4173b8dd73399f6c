package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/membank/internal/engine"
	"github.com/lazypower/membank/internal/render"
	"github.com/lazypower/membank/internal/store"
)

type nodeJSON struct {
	UID   string         `json:"uid"`
	Score *float64       `json:"score,omitempty"`
	Node  map[string]any `json:"node"`
}

func toJSON(n store.Node, score *float64) (nodeJSON, error) {
	fields, err := render.Fields(n)
	if err != nil {
		return nodeJSON{}, err
	}
	return nodeJSON{UID: n.Header().UID, Score: score, Node: fields}, nil
}

func rankedJSON(ranked []engine.Ranked) ([]nodeJSON, error) {
	out := make([]nodeJSON, 0, len(ranked))
	for _, r := range ranked {
		score := r.Score
		j, err := toJSON(r.Node, &score)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func nodesJSON(nodes []store.Node) ([]nodeJSON, error) {
	out := make([]nodeJSON, 0, len(nodes))
	for _, n := range nodes {
		j, err := toJSON(n, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

// intParam reads a positive integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", store.ErrInvalidArgument, name)
	}
	return n, nil
}

func splitTags(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	tags := splitTags(r.URL.Query().Get("tags"))
	if len(tags) == 0 {
		s.writeError(w, fmt.Errorf("%w: tags parameter required", store.ErrInvalidArgument))
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ranked, err := engine.Focus(s.store, s.source(), tags, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := rankedJSON(ranked)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tags":    tags,
		"count":   len(out),
		"results": out,
	})
}

func (s *Server) handleForContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		s.writeError(w, fmt.Errorf("%w: q parameter required", store.ErrInvalidArgument))
		return
	}
	top, err := intParam(r, "top", 50)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ranked, err := engine.ForContext(s.cache, engine.ParseQuery(q), top)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := rankedJSON(ranked)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"count":   len(out),
		"results": out,
	})
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	top, err := intParam(r, "top", 10)
	if err != nil {
		s.writeError(w, err)
		return
	}
	g, err := s.cache.Graph(nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := nodesJSON(engine.Latest(g.Nodes, top))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "results": out})
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	var (
		t   store.Type
		err error
	)
	if raw := r.URL.Query().Get("type"); raw != "" {
		if t, err = store.ParseType(raw); err != nil {
			s.writeError(w, err)
			return
		}
	}

	var nodes []store.Node
	switch {
	case s.fed != nil:
		nodes, err = s.fed.AggregateNodes(t)
	case t != "":
		nodes, err = s.store.LoadNodesByType(t)
	default:
		var g *engine.Graph
		if g, err = s.cache.Graph(nil); err == nil {
			nodes = g.Nodes
		}
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := nodesJSON(nodes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "nodes": out})
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "uid")
	var (
		n   store.Node
		err error
	)
	if s.fed != nil {
		n, err = s.fed.AggregateNodeByUID(token)
	} else {
		var uid string
		if uid, err = s.store.ResolveUID(token); err == nil {
			n, err = s.store.LoadNode(uid)
		}
	}
	if err == nil && n == nil {
		err = fmt.Errorf("%w: %s", store.ErrNotFound, token)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := toJSON(n, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "uid")
	var (
		links []*store.Link
		err   error
	)
	if s.fed != nil {
		links, err = s.fed.AggregateLinksBySourceUID(token)
	} else {
		var uid string
		if uid, err = s.store.ResolveUID(token); err == nil {
			links, err = s.store.LoadLinks([]string{uid})
		}
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if links == nil {
		links = []*store.Link{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(links), "links": links})
}
