package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lazypower/membank/internal/config"
)

func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	root := filepath.Join(t.TempDir(), ".membank")
	all := append([]Option{WithStateRoot(t.TempDir())}, opts...)
	s, err := Open(root, all...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

func saveMemory(t *testing.T, s *Store, content string, tags map[string]float64) string {
	t.Helper()
	n := New(TypeMemory, tags).(*Memory)
	n.Content = content
	uid, err := s.SaveNode(n, "")
	if err != nil {
		t.Fatalf("SaveNode: %v", err)
	}
	return uid
}

// fixedClock returns a clock that reports *now.
func fixedClock(now *time.Time) func() time.Time {
	return func() time.Time { return *now }
}

func TestInitializeLayout(t *testing.T) {
	s := testStore(t)
	for _, rel := range []string{
		"nodes/_inbox.json", "additional_memory", "index.json", "links.json",
		"rules.json", "mood.json", "config.toml",
	} {
		if _, err := os.Stat(filepath.Join(s.Root(), rel)); err != nil {
			t.Errorf("missing %s: %v", rel, err)
		}
	}
	if !IsStoreDir(s.Root()) {
		t.Error("IsStoreDir = false after Initialize")
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	s := testStore(t)
	uid := saveMemory(t, s, "keep me", map[string]float64{"x": 1})
	if err := s.Initialize(); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	n, err := s.LoadNode(uid)
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if n == nil {
		t.Fatal("node lost after re-initialize")
	}
}

func TestOpenReadsConfig(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Prune.AutoThreshold = 3
	if err := config.Write(filepath.Join(root, "config.toml"), cfg); err != nil {
		t.Fatal(err)
	}
	s, err := Open(root, WithStateRoot(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Config().Prune.AutoThreshold != 3 {
		t.Errorf("AutoThreshold = %d, want 3", s.Config().Prune.AutoThreshold)
	}
}

func TestLockedAtomicStore(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Lock = true
	cfg.Storage.AtomicWrites = true
	s := testStore(t, WithConfig(cfg))

	a := saveMemory(t, s, "one", map[string]float64{"tcp": 1})
	b := saveMemory(t, s, "two", map[string]float64{"tcp": 1})
	if _, err := s.SaveLink(NewLink(a, b, []string{"tcp"}, 1)); err != nil {
		t.Fatalf("SaveLink: %v", err)
	}
	if _, err := s.Prune(); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	nodes, err := s.AllNodes()
	if err != nil {
		t.Fatalf("AllNodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("AllNodes = %d, want 2", len(nodes))
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), "nodes", ".*tmp*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestDefaultStateRootEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MEMBANK_STATE_ROOT", dir)
	got, err := DefaultStateRoot()
	if err != nil {
		t.Fatalf("DefaultStateRoot: %v", err)
	}
	if got != dir {
		t.Errorf("DefaultStateRoot = %q, want %q", got, dir)
	}
}
