package engine

import "github.com/lazypower/membank/internal/store"

// ComputeDecay returns freq/total clamped to [0, 1], or 0 when total <= 0.
func ComputeDecay(freq, total int) float64 {
	if total <= 0 {
		return 0
	}
	ratio := float64(freq) / float64(total)
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}

// ScoreLink scores l against a query. It is 0 unless at least one link tag is
// a query tag; otherwise weight * decay * ComputeDecay(usage, totalFreq) *
// moodFactor * ruleAdjustment.
func ScoreLink(l *store.Link, queryTags []string, totalFreq int, moodFactor, ruleAdjustment float64) float64 {
	return scoreLink(l, tagSet(queryTags), totalFreq, moodFactor, ruleAdjustment)
}

func scoreLink(l *store.Link, query map[string]bool, totalFreq int, moodFactor, ruleAdjustment float64) float64 {
	matched := false
	for _, t := range l.Tags {
		if query[t] {
			matched = true
			break
		}
	}
	if !matched {
		return 0
	}
	return l.Weight * l.Decay * ComputeDecay(l.UsageCount, totalFreq) * moodFactor * ruleAdjustment
}

func tagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	return set
}
