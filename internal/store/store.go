package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/membank/internal/config"
)

// Store is one bank: a directory of cluster files, links and the derived
// index, plus the user-scoped session bucket for that directory.
type Store struct {
	root      string
	nodesDir  string
	memoryDir string
	stateRoot string

	cfg    config.Config
	hasCfg bool
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithConfig uses cfg instead of reading config.toml from the store root.
func WithConfig(cfg config.Config) Option {
	return func(s *Store) {
		s.cfg = cfg
		s.hasCfg = true
	}
}

// WithStateRoot overrides the directory holding user-scoped session state.
func WithStateRoot(dir string) Option {
	return func(s *Store) { s.stateRoot = dir }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// DefaultStateRoot returns $MEMBANK_STATE_ROOT, else ~/.config/membank.
func DefaultStateRoot() (string, error) {
	if dir := os.Getenv("MEMBANK_STATE_ROOT"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", "membank"), nil
}

// Open returns a Store rooted at root. It does not create anything on disk;
// call Initialize for that.
func Open(root string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}
	abs = resolveLinks(abs)
	s := &Store{
		root:      abs,
		nodesDir:  filepath.Join(abs, "nodes"),
		memoryDir: filepath.Join(abs, "additional_memory"),
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if !s.hasCfg {
		cfg, err := config.Load(s.ConfigPath())
		if err != nil {
			return nil, err
		}
		s.cfg = cfg
	}
	if s.stateRoot == "" {
		dir, err := DefaultStateRoot()
		if err != nil {
			return nil, err
		}
		s.stateRoot = dir
	}
	return s, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

// Config returns the settings the store was opened with.
func (s *Store) Config() config.Config { return s.cfg }

// ConfigPath returns the path of config.toml.
func (s *Store) ConfigPath() string { return filepath.Join(s.root, "config.toml") }

// StateRoot returns the directory holding user-scoped state.
func (s *Store) StateRoot() string { return s.stateRoot }

// Logger returns the store's logger.
func (s *Store) Logger() *zap.Logger { return s.logger }

func (s *Store) indexPath() string { return filepath.Join(s.root, "index.json") }
func (s *Store) linksPath() string { return filepath.Join(s.root, "links.json") }
func (s *Store) rulesPath() string { return filepath.Join(s.root, "rules.json") }
func (s *Store) moodPath() string  { return filepath.Join(s.root, "mood.json") }

func (s *Store) clusterPath(name string) string {
	return filepath.Join(s.nodesDir, name+".json")
}

// IsStoreDir reports whether dir has the files of an initialized store.
func IsStoreDir(dir string) bool {
	for _, name := range []string{"nodes", "index.json", "links.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// Initialize creates the store layout and default files that are missing and
// migrates a legacy session.json. Safe to call repeatedly.
func (s *Store) Initialize() error {
	for _, dir := range []string{s.root, s.nodesDir, s.memoryDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	defaults := []struct {
		path  string
		value any
	}{
		{s.indexPath(), NewIndex()},
		{s.linksPath(), map[string][]*Link{}},
		{s.rulesPath(), rulesFile{Rules: []string{}}},
		{s.moodPath(), map[string]float64{}},
		{s.clusterPath(InboxCluster), map[string]json.RawMessage{}},
	}
	for _, d := range defaults {
		if exists(d.path) {
			continue
		}
		if err := s.writeJSON(d.path, d.value); err != nil {
			return err
		}
	}
	if !exists(s.ConfigPath()) {
		if err := config.Write(s.ConfigPath(), s.cfg); err != nil {
			return err
		}
	}
	return s.migrateLegacySession()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// begin starts a unit of work. With [storage] lock enabled it holds an
// exclusive advisory lock on <root>/.lock until release is called.
func (s *Store) begin() (release func(), err error) {
	if !s.cfg.Storage.Lock {
		return func() {}, nil
	}
	unlock, err := lockFile(filepath.Join(s.root, ".lock"))
	if err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}
	return unlock, nil
}

// readJSON decodes path into v. A missing file leaves v untouched.
func (s *Store) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return s.writeFile(path, data)
}

func (s *Store) writeFile(path string, data []byte) error {
	if !s.cfg.Storage.AtomicWrites {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *Store) loadIndex() (*Index, error) {
	idx := NewIndex()
	if err := s.readJSON(s.indexPath(), idx); err != nil {
		return nil, err
	}
	idx.fill()
	return idx, nil
}

// LoadIndex returns the current derived index.
func (s *Store) LoadIndex() (*Index, error) {
	return s.loadIndex()
}

func (s *Store) saveIndex(idx *Index) error {
	return s.writeJSON(s.indexPath(), idx)
}

type cluster map[string]json.RawMessage

func (s *Store) readCluster(name string) (cluster, error) {
	c := cluster{}
	if err := s.readJSON(s.clusterPath(name), &c); err != nil {
		return nil, err
	}
	if c == nil {
		c = cluster{}
	}
	return c, nil
}

func (s *Store) writeCluster(name string, c cluster) error {
	return s.writeJSON(s.clusterPath(name), c)
}

// clusterNames lists every cluster file, sorted.
func (s *Store) clusterNames() ([]string, error) {
	entries, err := os.ReadDir(s.nodesDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// resolveLinks follows symlinks in path. A root that does not exist yet is
// resolved through its nearest existing ancestor.
func resolveLinks(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	parent := filepath.Dir(path)
	if parent == path {
		return path
	}
	return filepath.Join(resolveLinks(parent), filepath.Base(path))
}

// pathKey is the session bucket name for a store root.
func pathKey(root string) string {
	sum := sha256.Sum256([]byte(root))
	return hex.EncodeToString(sum[:])
}
