// Package rules parses and evaluates the "if <predicate> then <action>"
// expressions stored in rules.json.
//
// A predicate that names tags, as in `tag("tcp") or tag("udp")`, applies when
// any query tag is among them; any other predicate always applies. Actions
// adjust the retrieval weight: `weight += 0.5` or `weight -= 0.25`. Unknown
// actions parse but do nothing.
package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lazypower/membank/internal/store"
)

var (
	ruleRe   = regexp.MustCompile(`^if\s+(.+)\s+then\s+(.+)$`)
	tagRe    = regexp.MustCompile(`tag\("([^"]*)"\)`)
	actionRe = regexp.MustCompile(`^weight\s*([+-])=\s*(\S+)$`)
)

// Rule is one parsed expression.
type Rule struct {
	Raw       string
	Predicate string
	Action    string

	tags  []string // nil when the predicate is unconditional
	delta float64
}

// Parse parses a single rule expression.
func Parse(raw string) (Rule, error) {
	m := ruleRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return Rule{}, fmt.Errorf("%w: invalid rule %q: expected if <predicate> then <action>", store.ErrInvalidArgument, raw)
	}
	r := Rule{
		Raw:       raw,
		Predicate: strings.TrimSpace(m[1]),
		Action:    strings.TrimSpace(m[2]),
	}
	if strings.Contains(r.Predicate, "tag(") {
		r.tags = []string{}
		for _, tm := range tagRe.FindAllStringSubmatch(r.Predicate, -1) {
			r.tags = append(r.tags, tm[1])
		}
	}
	if am := actionRe.FindStringSubmatch(r.Action); am != nil {
		v, err := strconv.ParseFloat(am[2], 64)
		if err != nil {
			return Rule{}, fmt.Errorf("%w: rule %q: bad weight %q", store.ErrInvalidArgument, raw, am[2])
		}
		if am[1] == "-" {
			v = -v
		}
		r.delta = v
	}
	return r, nil
}

// Applies reports whether the rule's predicate holds for queryTags.
func (r Rule) Applies(queryTags []string) bool {
	if r.tags == nil {
		return true
	}
	for _, q := range queryTags {
		for _, t := range r.tags {
			if q == t {
				return true
			}
		}
	}
	return false
}

// Engine evaluates a fixed rule set.
type Engine struct {
	rules []Rule
}

// New parses every expression. The first malformed one fails the whole set.
func New(exprs []string) (*Engine, error) {
	e := &Engine{}
	for _, raw := range exprs {
		r, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, r)
	}
	return e, nil
}

// Rules returns the parsed rules in order.
func (e *Engine) Rules() []Rule { return e.rules }

// Evaluate returns the retrieval multiplier for queryTags: 1 plus the deltas
// of every applicable rule, floored at 0.
func (e *Engine) Evaluate(queryTags []string) float64 {
	m := 1.0
	for _, r := range e.rules {
		if r.Applies(queryTags) {
			m += r.delta
		}
	}
	if m < 0 {
		return 0
	}
	return m
}
