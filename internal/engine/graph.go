package engine

import (
	"sort"

	"github.com/lazypower/membank/internal/store"
)

// NeighborFactor scales a ranked node's score onto its 1-hop neighbors.
const NeighborFactor = 0.5

// RuleEvaluator yields the rule multiplier applied to link scores for a
// query.
type RuleEvaluator interface {
	Evaluate(queryTags []string) float64
}

// Options controls Retrieve.
type Options struct {
	Limit               int                // max results (default 5)
	Multipliers         map[string]float64 // per-node factor, e.g. from federation; missing uids are unscaled
	ResistanceThreshold float64            // scores below this are dropped
	Mood                map[string]float64 // per-tag mood; nil disables mood scaling
	MoodDefault         float64
	Rules               RuleEvaluator // nil means no adjustment
}

func (o Options) limit() int {
	if o.Limit <= 0 {
		return 5
	}
	return o.Limit
}

// moodFactor is the mean mood of the query tags relative to the default mood.
func (o Options) moodFactor(queryTags []string) float64 {
	if o.Mood == nil || len(queryTags) == 0 || o.MoodDefault <= 0 {
		return 1
	}
	sum := 0.0
	for _, t := range queryTags {
		if v, ok := o.Mood[t]; ok {
			sum += v
		} else {
			sum += o.MoodDefault
		}
	}
	return sum / float64(len(queryTags)) / o.MoodDefault
}

func (o Options) ruleAdjustment(queryTags []string) float64 {
	if o.Rules == nil {
		return 1
	}
	return o.Rules.Evaluate(queryTags)
}

// Result is one ranked node.
type Result struct {
	UID   string  `json:"uid"`
	Score float64 `json:"score"`
}

// scores accumulates per-node values and remembers first-insertion order.
type scores struct {
	value map[string]float64
	order []string
}

func newScores() *scores {
	return &scores{value: map[string]float64{}}
}

func (s *scores) add(uid string, v float64) {
	if _, ok := s.value[uid]; !ok {
		s.order = append(s.order, uid)
	}
	s.value[uid] += v
}

func (s *scores) raise(uid string, v float64) {
	cur, ok := s.value[uid]
	if !ok {
		s.order = append(s.order, uid)
	} else if cur >= v {
		return
	}
	s.value[uid] = v
}

func (s *scores) ranked() []Result {
	out := make([]Result, 0, len(s.order))
	for _, uid := range s.order {
		out = append(out, Result{UID: uid, Score: s.value[uid]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Retrieve ranks nodes against queryTags:
//
//  1. each node scores the summed weight of its tags that are in the query;
//  2. each link whose tags meet the query credits ScoreLink to its target;
//  3. only the top Limit nodes go on, and each lifts its undirected
//     neighbors to at least NeighborFactor times its own score;
//  4. Multipliers scale the scores;
//  5. scores that are not positive or fall below ResistanceThreshold are
//     dropped.
//
// The rest is returned sorted by score, ties in first-scored order, and
// truncated to Limit.
func Retrieve(nodes []store.Node, links []*store.Link, queryTags []string, opts Options) []Result {
	limit := opts.limit()
	query := tagSet(queryTags)
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.Header().UID] = true
	}

	acc := newScores()
	for _, n := range nodes {
		direct := 0.0
		matched := false
		for tag, w := range n.Header().Tags {
			if query[tag] {
				direct += w
				matched = true
			}
		}
		if matched {
			acc.add(n.Header().UID, direct)
		}
	}

	totalFreq := 0
	for _, l := range links {
		if l.UsageCount > 0 {
			totalFreq += l.UsageCount
		}
	}
	mood := opts.moodFactor(queryTags)
	rule := opts.ruleAdjustment(queryTags)
	for _, l := range links {
		if !known[l.Target] {
			continue
		}
		if v := scoreLink(l, query, totalFreq, mood, rule); v != 0 {
			acc.add(l.Target, v)
		}
	}

	adjacent := map[string][]string{}
	for _, l := range links {
		if !known[l.Source] || !known[l.Target] {
			continue
		}
		adjacent[l.Source] = append(adjacent[l.Source], l.Target)
		adjacent[l.Target] = append(adjacent[l.Target], l.Source)
	}
	top := acc.ranked()
	if len(top) > limit {
		top = top[:limit]
	}
	expanded := newScores()
	for _, r := range top {
		expanded.add(r.UID, r.Score)
	}
	for _, r := range top {
		if r.Score <= 0 {
			continue
		}
		for _, neighbor := range adjacent[r.UID] {
			expanded.raise(neighbor, r.Score*NeighborFactor)
		}
	}

	final := newScores()
	for _, uid := range expanded.order {
		score := expanded.value[uid]
		if m, ok := opts.Multipliers[uid]; ok {
			score *= m
		}
		if score <= 0 || score < opts.ResistanceThreshold {
			continue
		}
		final.add(uid, score)
	}
	out := final.ranked()
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
