package engine

import (
	"regexp"
	"sort"
	"strings"

	"github.com/lazypower/membank/internal/store"
)

// forctx scoring weights.
const (
	TagMatchWeight     = 2.0
	ContentMatchWeight = 1.0
)

var bracketed = regexp.MustCompile(`\[([^\]]*)\]`)

// Query is a parsed forctx query.
type Query struct {
	Tags    []string
	Phrases []string
}

// ParseQuery splits a forctx query into tag tokens and content phrases.
// "[some words]" is one phrase, "#tag" is a tag, and any other bare word is a
// one-word phrase.
func ParseQuery(q string) Query {
	var out Query
	q = strings.TrimSpace(q)
	for _, m := range bracketed.FindAllStringSubmatch(q, -1) {
		if p := strings.TrimSpace(m[1]); p != "" {
			out.Phrases = append(out.Phrases, p)
		}
	}
	var bare []string
	for _, tok := range strings.Fields(bracketed.ReplaceAllString(q, " ")) {
		if strings.HasPrefix(tok, "#") {
			if tag := strings.TrimSpace(tok[1:]); tag != "" {
				out.Tags = append(out.Tags, tag)
			}
			continue
		}
		bare = append(bare, tok)
	}
	out.Phrases = append(out.Phrases, bare...)
	return out
}

// ScoreForContext scores nodes by TagMatchWeight per matching tag and
// ContentMatchWeight per phrase found (case-insensitively) in the node's
// text. Nodes scoring 0 are omitted; the rest are sorted by score and cut to
// top (no cut when top <= 0).
func ScoreForContext(nodes []store.Node, q Query, top int) []Result {
	tags := tagSet(q.Tags)
	phrases := make([]string, 0, len(q.Phrases))
	for _, p := range q.Phrases {
		phrases = append(phrases, strings.ToLower(p))
	}

	var out []Result
	for _, n := range nodes {
		score := 0.0
		for tag := range n.Header().Tags {
			if tags[tag] {
				score += TagMatchWeight
			}
		}
		if len(phrases) > 0 {
			text := strings.ToLower(store.SearchText(n))
			for _, p := range phrases {
				if strings.Contains(text, p) {
					score += ContentMatchWeight
				}
			}
		}
		if score > 0 {
			out = append(out, Result{UID: n.Header().UID, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}
