package store

import (
	"regexp"
	"sort"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// slug lower-cases s and collapses non-alphanumeric runs to "-".
func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Trim(nonAlnum.ReplaceAllString(s, "-"), "-")
}

// rankTags orders tag names by weight descending, then by name.
func rankTags(weights map[string]float64) []string {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		wi, wj := weights[names[i]], weights[names[j]]
		if wi != wj {
			return wi > wj
		}
		return names[i] < names[j]
	})
	return names
}

// DeriveClusterName names a cluster after its two heaviest tags, e.g.
// {"TCP":3, "time out":2} -> "tcp_time-out". Returns InboxCluster when no tag
// yields a usable slug.
func DeriveClusterName(weights map[string]float64) string {
	var parts []string
	for _, name := range rankTags(weights) {
		if len(parts) == 2 {
			break
		}
		if s := slug(name); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return InboxCluster
	}
	return strings.Join(parts, "_")
}

func topTags(weights map[string]float64, n int) []string {
	ranked := rankTags(weights)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
