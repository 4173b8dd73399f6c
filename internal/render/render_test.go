package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/lazypower/membank/internal/store"
)

func memory(content string, tags map[string]float64) *store.Memory {
	n := store.New(store.TypeMemory, tags).(*store.Memory)
	n.UID = "abcdef0123456789"
	n.Content = content
	return n
}

func TestNodeHeader(t *testing.T) {
	n := memory("tcp setup", map[string]float64{"tcp": 2, "net": 1})

	got := Node(n, nil, false)
	want := "(Memory) [abcdef01] tcp,net\n  tcp setup"
	if got != want {
		t.Errorf("Node = %q, want %q", got, want)
	}

	score := 1.23456
	got = Node(n, &score, false)
	if !strings.HasPrefix(got, "[1.235] (Memory) tcp,net\n") {
		t.Errorf("scored Node = %q", got)
	}

	if got := Node(n, &score, true); got != "[1.235] (Memory) tcp,net" {
		t.Errorf("truncated Node = %q", got)
	}
}

func TestNodeBodies(t *testing.T) {
	story := store.New(store.TypeStory, nil).(*store.Story)
	story.Role = "operator"
	story.Benefit = "restarts are safe"
	story.Criteria = []string{"drains first"}

	feature := store.New(store.TypeFeature, nil).(*store.Feature)
	feature.Component, feature.TestScenario, feature.ExpectedResult = "api", "timeout", "503"
	feature.Status = store.StatusDone

	link := store.New(store.TypeMemoryLink, nil).(*store.MemoryLink)
	link.Title, link.Summary, link.FilePath = "Runbook", "how to page", "additional_memory/runbook.md"

	pattern := store.New(store.TypePattern, nil).(*store.Pattern)
	pattern.PatternType, pattern.Content = "retry", "backoff with jitter"

	bug := store.New(store.TypeBug, nil).(*store.Bug)
	bug.Content = "leaks fds"

	tests := []struct {
		node store.Node
		want string
	}{
		{story, " [todo]\n  operator: restarts are safe\n  - drains first"},
		{feature, " [done]\n  api: timeout\n  expect: 503"},
		{link, "\n  Runbook: how to page\n  -> additional_memory/runbook.md"},
		{pattern, " [retry]\n  backoff with jitter"},
		{bug, " [todo]\n  leaks fds"},
	}
	for _, tt := range tests {
		got := Node(tt.node, nil, false)
		if !strings.HasSuffix(got, tt.want) {
			t.Errorf("Node(%s) = %q, want suffix %q", tt.node.Type(), got, tt.want)
		}
	}
}

func TestDetail(t *testing.T) {
	p := store.New(store.TypeProgress, map[string]float64{"deploy": 1.5}).(*store.Progress)
	p.Content = "rolling out"
	p.Extra = map[string]any{"focus_area": "infra"}

	got := Detail(p)
	for _, want := range []string{
		"type: Progress",
		"tags: deploy:1.5",
		"content: rolling out",
		"status: todo",
		"focus_area: infra",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Detail missing %q:\n%s", want, got)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "JSON": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("ParseFormat(xml) err = %v, want ErrInvalidArgument", err)
	}
}

func TestEncode(t *testing.T) {
	n := memory("tcp setup", map[string]float64{"tcp": 1})

	var buf bytes.Buffer
	if err := Encode(&buf, n, FormatJSON); err != nil {
		t.Fatalf("Encode json: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("json output: %v", err)
	}
	if m["__type__"] != "memory" || m["content"] != "tcp setup" {
		t.Errorf("json = %v", m)
	}

	buf.Reset()
	if err := Encode(&buf, n, FormatYAML); err != nil {
		t.Fatalf("Encode yaml: %v", err)
	}
	m = nil
	if err := yaml.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("yaml output: %v", err)
	}
	if m["uid"] != n.UID {
		t.Errorf("yaml uid = %v, want %s", m["uid"], n.UID)
	}

	buf.Reset()
	if err := Encode(&buf, n, FormatText); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "uid: "+n.UID) {
		t.Errorf("text = %q", buf.String())
	}
}

func TestPrinterNotStyledForBuffers(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.Node(memory("x", nil), nil, true)
	if got := buf.String(); got != "(Memory) [abcdef01]\n" {
		t.Errorf("Printer output = %q", got)
	}
}
