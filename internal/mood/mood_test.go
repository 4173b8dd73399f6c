package mood

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/lazypower/membank/internal/config"
	"github.com/lazypower/membank/internal/store"
)

type memBackend map[string]float64

func (m memBackend) LoadMood() (map[string]float64, error) {
	out := map[string]float64{}
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func (m memBackend) SaveMood(next map[string]float64) error {
	for k, v := range next {
		m[k] = v
	}
	return nil
}

func TestGetDefaultsAndReport(t *testing.T) {
	backend := memBackend{}
	tr := New(backend, config.MoodConfig{Default: 0.5, Smoothing: 0.1})

	if v, err := tr.Get("tcp"); err != nil || v != 0.5 {
		t.Fatalf("Get(tcp) = %v, %v; want 0.5", v, err)
	}
	got, err := tr.Report("tcp", 1.0)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if math.Abs(got-0.55) > 1e-9 {
		t.Errorf("Report = %v, want 0.55", got)
	}
	got, _ = tr.Report("tcp", 0)
	if math.Abs(got-0.495) > 1e-9 {
		t.Errorf("second Report = %v, want 0.495", got)
	}
	if v, _ := tr.Get("tcp"); v != got {
		t.Errorf("Get after report = %v, want %v", v, got)
	}
}

func TestTrackerOverStore(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), ".membank"), store.WithStateRoot(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	tr := New(s, s.Config().Mood)
	if _, err := tr.Report("ui", 1); err != nil {
		t.Fatalf("Report: %v", err)
	}
	all, err := tr.All()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := all["ui"]; !ok {
		t.Errorf("mood.json missing ui: %v", all)
	}
}
