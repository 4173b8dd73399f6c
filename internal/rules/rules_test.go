package rules

import (
	"errors"
	"testing"

	"github.com/lazypower/membank/internal/store"
)

func TestParse(t *testing.T) {
	r, err := Parse(`  if tag("tcp") then weight += 0.5 `)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if r.Predicate != `tag("tcp")` || r.Action != "weight += 0.5" {
		t.Errorf("Parse = %q / %q", r.Predicate, r.Action)
	}
	if r.delta != 0.5 {
		t.Errorf("delta = %v, want 0.5", r.delta)
	}

	for _, bad := range []string{"weight += 1", "if then", "when x then y", ""} {
		if _, err := Parse(bad); !errors.Is(err, store.ErrInvalidArgument) {
			t.Errorf("Parse(%q) err = %v, want ErrInvalidArgument", bad, err)
		}
	}
	if _, err := Parse(`if tag("a") then weight += lots`); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("bad number err = %v, want ErrInvalidArgument", err)
	}
}

func TestEvaluate(t *testing.T) {
	e, err := New([]string{
		`if tag("tcp") then weight += 0.5`,
		`if tag("udp") or tag("dns") then weight -= 0.25`,
		`if always then weight += 0.1`,
		`if tag("tcp") then notify`,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		tags []string
		want float64
	}{
		{[]string{"tcp"}, 1.6},
		{[]string{"dns"}, 0.85},
		{[]string{"tcp", "udp"}, 1.35},
		{nil, 1.1},
	}
	for _, tt := range tests {
		got := e.Evaluate(tt.tags)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("Evaluate(%v) = %v, want %v", tt.tags, got, tt.want)
		}
	}
}

func TestEvaluateFloorsAtZero(t *testing.T) {
	e, err := New([]string{`if tag("x") then weight -= 5`})
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Evaluate([]string{"x"}); got != 0 {
		t.Errorf("Evaluate = %v, want 0", got)
	}
}

func TestNewRejectsMalformedRule(t *testing.T) {
	if _, err := New([]string{`if tag("x") then weight += 1`, "nonsense"}); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("New err = %v, want ErrInvalidArgument", err)
	}
	e, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Evaluate([]string{"x"}); got != 1 {
		t.Errorf("empty engine Evaluate = %v, want 1", got)
	}
}
