package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SchemaVersion is written as __schema__ on every payload this package encodes.
// Payloads without it predate the current variant set.
const SchemaVersion = 2

const (
	keyType   = "__type__"
	keySchema = "__schema__"
)

var legacyAliases = map[string]Type{
	"note":         TypeMemory,
	"link":         TypeMemoryLink,
	"memory_link":  TypeMemoryLink,
	"user_story":   TypeStory,
	"userstory":    TypeStory,
	"sub_task":     TypeSubTask,
	"defect":       TypeBug,
	VariantActive:  TypeProgress,
	VariantArchive: TypeProgress,
}

var (
	bugWords   = []string{"bug", "defect", "crash", "regression", "broken", "panic"}
	issueWords = []string{"issue", "problem", "question", "investigate", "incident"}
)

// NormalizeType maps a stored discriminator onto a current variant. legacy
// reports a payload written before __schema__ existed; tags and text feed the
// bug/issue heuristics applied to ambiguous legacy names. The second result
// is false when raw is not recognized, in which case TypeMemory is returned.
func NormalizeType(raw string, legacy bool, tags map[string]float64, text string) (Type, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case name == "ticket":
		return classify(tags, text, TypeIssue), true
	case name == string(TypeTask) && legacy:
		return classify(tags, text, TypeTask), true
	}
	for _, t := range Types {
		if name == string(t) {
			return t, true
		}
	}
	if t, ok := legacyAliases[name]; ok {
		return t, true
	}
	return TypeMemory, false
}

// ParseType validates a user-supplied variant name. Legacy aliases are
// accepted and mapped onto their current variant.
func ParseType(s string) (Type, error) {
	t, ok := NormalizeType(s, false, nil, "")
	if !ok {
		return "", fmt.Errorf("%w: unknown node type %q", ErrInvalidArgument, s)
	}
	return t, nil
}

func classify(tags map[string]float64, text string, fallback Type) Type {
	switch {
	case mentions(tags, text, bugWords):
		return TypeBug
	case mentions(tags, text, issueWords):
		return TypeIssue
	}
	return fallback
}

func mentions(tags map[string]float64, text string, words []string) bool {
	for tag := range tags {
		tag = strings.ToLower(tag)
		for _, w := range words {
			if tag == w {
				return true
			}
		}
	}
	for _, field := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		for _, w := range words {
			if field == w {
				return true
			}
		}
	}
	return false
}

// payloadProbe reads the fields needed to pick a variant before decoding.
type payloadProbe struct {
	Type         string             `json:"__type__"`
	Schema       int                `json:"__schema__"`
	Tags         map[string]float64 `json:"tags"`
	Content      string             `json:"content"`
	FocusArea    string             `json:"focus_area"`
	ArchivedFrom string             `json:"archived_from"`
	Reason       string             `json:"reason"`
}

// EncodeNode marshals n with discriminator variant. An empty variant uses
// n.Type().
func EncodeNode(n Node, variant string) (json.RawMessage, error) {
	if variant == "" {
		variant = string(n.Type())
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("encode node %s: %w", n.Header().UID, err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("encode node %s: %w", n.Header().UID, err)
	}
	fields[keyType], _ = json.Marshal(variant)
	fields[keySchema], _ = json.Marshal(SchemaVersion)
	return json.Marshal(fields)
}

// DecodeNode decodes a stored payload into its normalized variant.
func DecodeNode(raw json.RawMessage, logger *zap.Logger) (Node, error) {
	var probe payloadProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode node: %w", err)
	}
	discriminator := probe.Type
	if discriminator == "" {
		discriminator = string(TypeMemory)
	}
	t, known := NormalizeType(discriminator, probe.Schema == 0, probe.Tags, probe.Content)
	if !known && logger != nil {
		logger.Warn("unknown node type, decoding as memory", zap.String("type", probe.Type))
	}

	n := empty(t)
	if err := json.Unmarshal(raw, n); err != nil {
		return nil, fmt.Errorf("decode %s node: %w", t, err)
	}
	h := n.Header()
	if h.Tags == nil {
		h.Tags = map[string]float64{}
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = h.CreatedAt
	}
	if sn, ok := n.(StatusNode); ok {
		tr := sn.Tracking()
		if tr.Status == "" {
			tr.Status = StatusTodo
		}
		switch strings.ToLower(discriminator) {
		case VariantActive:
			tr.Status = StatusInProgress
			setExtra(tr, "focus_area", probe.FocusArea)
		case VariantArchive:
			tr.Status = StatusDone
			setExtra(tr, "archived_from", probe.ArchivedFrom)
			setExtra(tr, "reason", probe.Reason)
		}
	}
	return n, nil
}

func setExtra(t *Tracked, key, value string) {
	if value == "" {
		return
	}
	if t.Extra == nil {
		t.Extra = map[string]any{}
	}
	t.Extra[key] = value
}

// archivePayload rewrites a stored active payload as archived.
func archivePayload(raw json.RawMessage, reason string, now time.Time) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode active payload: %w", err)
	}
	fields[keyType], _ = json.Marshal(VariantArchive)
	fields["archived_from"], _ = json.Marshal(VariantActive)
	fields["reason"], _ = json.Marshal(reason)
	fields["status"], _ = json.Marshal(StatusDone)
	fields["updated_at"], _ = json.Marshal(now)
	return json.Marshal(fields)
}

// payloadTags extracts the tag map of a stored payload without a full decode.
func payloadTags(raw json.RawMessage) map[string]float64 {
	var probe struct {
		Tags map[string]float64 `json:"tags"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.Tags
}

// payloadType returns the raw stored discriminator, defaulting to memory.
func payloadType(raw json.RawMessage) string {
	var probe struct {
		Type string `json:"__type__"`
	}
	_ = json.Unmarshal(raw, &probe)
	if probe.Type == "" {
		return string(TypeMemory)
	}
	return probe.Type
}
