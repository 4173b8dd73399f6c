package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of node variants.
type Type string

const (
	TypeMemory     Type = "memory"
	TypeMemoryLink Type = "memorylink"
	TypeStory      Type = "story"
	TypeFeature    Type = "feature"
	TypeTask       Type = "task"
	TypeSubTask    Type = "subtask"
	TypeIssue      Type = "issue"
	TypeBug        Type = "bug"
	TypePattern    Type = "pattern"
	TypeProgress   Type = "progress"
)

// Types lists every variant in display order.
var Types = []Type{
	TypeMemory, TypeMemoryLink, TypeStory, TypeFeature, TypeTask,
	TypeSubTask, TypeIssue, TypeBug, TypePattern, TypeProgress,
}

// Deprecated discriminators still accepted on write. Both decode as Progress.
const (
	VariantActive  = "active"
	VariantArchive = "archive"
)

// Status is the lifecycle state of a status-bearing node.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// ParseStatus validates s as a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusTodo, StatusInProgress, StatusDone, StatusBlocked:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
}

// Node is implemented by every variant struct.
type Node interface {
	Header() *Base
	Type() Type
}

// StatusNode is a Node with a lifecycle status.
type StatusNode interface {
	Node
	Tracking() *Tracked
}

// Base carries the fields shared by every variant.
type Base struct {
	UID       string             `json:"uid"`
	Tags      map[string]float64 `json:"tags"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (b *Base) Header() *Base { return b }

// Tracked carries the status and open metadata of status-bearing variants.
type Tracked struct {
	Status Status         `json:"status"`
	Extra  map[string]any `json:"extra,omitempty"`
}

func (t *Tracked) Tracking() *Tracked { return t }

type Memory struct {
	Base
	Content string `json:"content"`
}

type MemoryLink struct {
	Base
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	FilePath string `json:"file_path"`
}

type Story struct {
	Base
	Tracked
	Role     string   `json:"role"`
	Benefit  string   `json:"benefit"`
	Criteria []string `json:"criteria"`
}

type Feature struct {
	Base
	Tracked
	Component      string `json:"component"`
	TestScenario   string `json:"test_scenario"`
	ExpectedResult string `json:"expected_result"`
}

type Task struct {
	Base
	Tracked
	Content string `json:"content"`
}

type SubTask struct {
	Base
	Tracked
	Content string `json:"content"`
	Parent  string `json:"parent,omitempty"`
}

type Issue struct {
	Base
	Tracked
	Content string `json:"content"`
}

type Bug struct {
	Base
	Tracked
	Content string `json:"content"`
}

type Pattern struct {
	Base
	Content     string `json:"content"`
	PatternType string `json:"pattern_type"`
}

type Progress struct {
	Base
	Tracked
	Content string `json:"content"`
}

func (*Memory) Type() Type     { return TypeMemory }
func (*MemoryLink) Type() Type { return TypeMemoryLink }
func (*Story) Type() Type      { return TypeStory }
func (*Feature) Type() Type    { return TypeFeature }
func (*Task) Type() Type       { return TypeTask }
func (*SubTask) Type() Type    { return TypeSubTask }
func (*Issue) Type() Type      { return TypeIssue }
func (*Bug) Type() Type        { return TypeBug }
func (*Pattern) Type() Type    { return TypePattern }
func (*Progress) Type() Type   { return TypeProgress }

// New returns an empty node of type t with a fresh uid, the given tags and
// timestamps set to now. Status-bearing variants start as todo.
func New(t Type, tags map[string]float64) Node {
	n := empty(t)
	now := time.Now().UTC()
	h := n.Header()
	h.UID = uuid.NewString()
	h.Tags = map[string]float64{}
	for k, v := range tags {
		h.Tags[k] = v
	}
	h.CreatedAt = now
	h.UpdatedAt = now
	if sn, ok := n.(StatusNode); ok {
		sn.Tracking().Status = StatusTodo
	}
	return n
}

func empty(t Type) Node {
	switch t {
	case TypeMemoryLink:
		return &MemoryLink{}
	case TypeStory:
		return &Story{}
	case TypeFeature:
		return &Feature{}
	case TypeTask:
		return &Task{}
	case TypeSubTask:
		return &SubTask{}
	case TypeIssue:
		return &Issue{}
	case TypeBug:
		return &Bug{}
	case TypePattern:
		return &Pattern{}
	case TypeProgress:
		return &Progress{}
	default:
		return &Memory{}
	}
}

// SetContent assigns the primary free-text field of n. Variants without a
// single content field map it onto their leading text field.
func SetContent(n Node, text string) {
	switch v := n.(type) {
	case *Memory:
		v.Content = text
	case *MemoryLink:
		v.Summary = text
	case *Story:
		v.Role = text
	case *Feature:
		v.Component = text
	case *Task:
		v.Content = text
	case *SubTask:
		v.Content = text
	case *Issue:
		v.Content = text
	case *Bug:
		v.Content = text
	case *Pattern:
		v.Content = text
	case *Progress:
		v.Content = text
	}
}

// Summary returns a one-line description of n used in listings.
func Summary(n Node) string {
	switch v := n.(type) {
	case *Memory:
		return v.Content
	case *MemoryLink:
		return v.Title
	case *Story:
		return fmt.Sprintf("As a %s, so that %s", v.Role, v.Benefit)
	case *Feature:
		return v.Component
	case *Task:
		return v.Content
	case *SubTask:
		return v.Content
	case *Issue:
		return v.Content
	case *Bug:
		return v.Content
	case *Pattern:
		return v.Content
	case *Progress:
		return v.Content
	}
	return ""
}

// SearchText concatenates the uid and every free-text field of n.
func SearchText(n Node) string {
	parts := []string{n.Header().UID}
	switch v := n.(type) {
	case *Memory:
		parts = append(parts, v.Content)
	case *MemoryLink:
		parts = append(parts, v.Title, v.Summary, v.FilePath)
	case *Story:
		parts = append(parts, v.Role, v.Benefit)
		parts = append(parts, v.Criteria...)
	case *Feature:
		parts = append(parts, v.Component, v.TestScenario, v.ExpectedResult)
	case *Task:
		parts = append(parts, v.Content)
	case *SubTask:
		parts = append(parts, v.Content)
	case *Issue:
		parts = append(parts, v.Content)
	case *Bug:
		parts = append(parts, v.Content)
	case *Pattern:
		parts = append(parts, v.PatternType, v.Content)
	case *Progress:
		parts = append(parts, v.Content)
	}
	if sn, ok := n.(StatusNode); ok {
		parts = append(parts, string(sn.Tracking().Status))
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
