// Package render formats nodes for terminal output and structured export.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/membank/internal/store"
)

var (
	scoreStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	typeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	uidStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	tagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

var displayNames = map[store.Type]string{
	store.TypeMemory:     "Memory",
	store.TypeMemoryLink: "MemoryLink",
	store.TypeStory:      "Story",
	store.TypeFeature:    "Feature",
	store.TypeTask:       "Task",
	store.TypeSubTask:    "SubTask",
	store.TypeIssue:      "Issue",
	store.TypeBug:        "Bug",
	store.TypePattern:    "Pattern",
	store.TypeProgress:   "Progress",
}

// TypeName is the display name of t.
func TypeName(t store.Type) string {
	if name, ok := displayNames[t]; ok {
		return name
	}
	return string(t)
}

// Printer writes rendered nodes, styling headers when the output is a
// terminal.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter returns a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: IsTerminal(w)}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Node writes the listing form of n. See Node.
func (p *Printer) Node(n store.Node, score *float64, truncated bool) {
	fmt.Fprintln(p.w, node(n, score, truncated, p.styled))
}

// Detail writes the full form of n.
func (p *Printer) Detail(n store.Node) {
	fmt.Fprintln(p.w, Detail(n))
}

// Node renders n as a header line followed by its variant body. A nil score
// shows the short uid instead. Truncated output is the header alone, used for
// nodes already served in the session.
func Node(n store.Node, score *float64, truncated bool) string {
	return node(n, score, truncated, false)
}

func node(n store.Node, score *float64, truncated, styled bool) string {
	style := func(s lipgloss.Style, v string) string {
		if styled {
			return s.Render(v)
		}
		return v
	}
	h := n.Header()
	tags := style(tagStyle, strings.Join(sortedTags(h.Tags), ","))
	kind := style(typeStyle, "("+TypeName(n.Type())+")")
	var header string
	if score != nil {
		header = fmt.Sprintf("%s %s %s", style(scoreStyle, fmt.Sprintf("[%.3f]", *score)), kind, tags)
	} else {
		header = fmt.Sprintf("%s %s %s", kind, style(uidStyle, "["+shortUID(h.UID)+"]"), tags)
	}
	header = strings.TrimRight(header, " ")
	if truncated {
		return header
	}
	return header + body(n)
}

func body(n store.Node) string {
	status := func(sn store.StatusNode) string {
		return " [" + string(sn.Tracking().Status) + "]"
	}
	switch v := n.(type) {
	case *store.Memory:
		return "\n  " + v.Content
	case *store.MemoryLink:
		return fmt.Sprintf("\n  %s: %s\n  -> %s", v.Title, v.Summary, v.FilePath)
	case *store.Story:
		var crit strings.Builder
		for _, c := range v.Criteria {
			crit.WriteString("\n  - " + c)
		}
		return fmt.Sprintf("%s\n  %s: %s%s", status(v), v.Role, v.Benefit, crit.String())
	case *store.Feature:
		return fmt.Sprintf("%s\n  %s: %s\n  expect: %s", status(v), v.Component, v.TestScenario, v.ExpectedResult)
	case *store.Pattern:
		kind := ""
		if v.PatternType != "" {
			kind = " [" + v.PatternType + "]"
		}
		return kind + "\n  " + v.Content
	case *store.SubTask:
		parent := ""
		if v.Parent != "" {
			parent = "\n  parent: " + shortUID(v.Parent)
		}
		return status(v) + "\n  " + v.Content + parent
	case store.StatusNode:
		return status(v) + "\n  " + store.Summary(n)
	}
	return "\n  " + n.Header().UID
}

// Detail renders every field of n, one per line.
func Detail(n store.Node) string {
	h := n.Header()
	lines := []string{
		"uid: " + h.UID,
		"type: " + TypeName(n.Type()),
		"tags: " + weightedTags(h.Tags),
		"created_at: " + h.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		"updated_at: " + h.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	switch v := n.(type) {
	case *store.Memory:
		lines = append(lines, "content: "+v.Content)
	case *store.MemoryLink:
		lines = append(lines, "title: "+v.Title, "summary: "+v.Summary, "file: "+v.FilePath)
	case *store.Story:
		lines = append(lines, "role: "+v.Role, "benefit: "+v.Benefit)
		if len(v.Criteria) > 0 {
			lines = append(lines, "criteria:")
			for _, c := range v.Criteria {
				lines = append(lines, "  - "+c)
			}
		}
	case *store.Feature:
		lines = append(lines, "component: "+v.Component, "scenario: "+v.TestScenario, "expected: "+v.ExpectedResult)
	case *store.Pattern:
		lines = append(lines, "pattern_type: "+v.PatternType, "content: "+v.Content)
	case *store.SubTask:
		lines = append(lines, "content: "+v.Content)
		if v.Parent != "" {
			lines = append(lines, "parent: "+v.Parent)
		}
	default:
		lines = append(lines, "content: "+store.Summary(n))
	}
	if sn, ok := n.(store.StatusNode); ok {
		tr := sn.Tracking()
		lines = append(lines, "status: "+string(tr.Status))
		keys := make([]string, 0, len(tr.Extra))
		for k := range tr.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %v", k, tr.Extra[k]))
		}
	}
	return strings.Join(lines, "\n")
}

// Format selects an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("%w: unknown format %q (want text, json or yaml)", store.ErrInvalidArgument, s)
}

// Fields returns n as a generic map of its persisted fields.
func Fields(n store.Node) (map[string]any, error) {
	raw, err := store.EncodeNode(n, "")
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode node fields: %w", err)
	}
	return m, nil
}

// Encode writes n to w in the given format.
func Encode(w io.Writer, n store.Node, format Format) error {
	switch format {
	case FormatJSON:
		raw, err := store.EncodeNode(n, "")
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(raw)
	case FormatYAML:
		m, err := Fields(n)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w, Detail(n))
		return err
	}
}

func shortUID(uid string) string {
	if len(uid) > 8 {
		return uid[:8]
	}
	return uid
}

// sortedTags orders tag names by weight, heaviest first, then by name.
func sortedTags(tags map[string]float64) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		if tags[names[i]] != tags[names[j]] {
			return tags[names[i]] > tags[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func weightedTags(tags map[string]float64) string {
	var parts []string
	for _, k := range sortedTags(tags) {
		parts = append(parts, fmt.Sprintf("%s:%g", k, tags[k]))
	}
	return strings.Join(parts, ", ")
}
