package federation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lazypower/membank/internal/config"
	"github.com/lazypower/membank/internal/store"
)

// BankContext places one discovered bank relative to the boundary and the
// host bank.
type BankContext struct {
	ID           string `json:"bank_id"` // owning directory of the store
	Root         string `json:"root"`
	RootDepth    int    `json:"root_depth"`
	HostDistance int    `json:"host_distance"`
	IsHost       bool   `json:"is_host"`
}

// Resolver discovers the banks visible from a host store root.
type Resolver interface {
	Discover(host string) ([]BankContext, error)
}

// Boundary locates the directory that bounds discovery.
type Boundary interface {
	Find(start string) (string, bool)
}

// CandidateSource proposes store roots under the given search roots.
// Proposals need not be valid stores; DirResolver validates them.
type CandidateSource interface {
	Candidates(searchRoots []string) ([]string, error)
}

// GitBoundary finds the nearest directory containing .git, looking at most
// MaxLevels parents above start.
type GitBoundary struct {
	MaxLevels int
}

func (g GitBoundary) Find(start string) (string, bool) {
	cur := canonical(start)
	for i := 0; i <= g.MaxLevels; i++ {
		if _, err := os.Stat(filepath.Join(cur, ".git")); err == nil {
			return cur, true
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return "", false
}

// MarkerSearch walks each search root for directories named Name. An empty
// Name accepts any directory that is a valid store.
type MarkerSearch struct {
	Name string
}

func (m MarkerSearch) Candidates(searchRoots []string) ([]string, error) {
	var out []string
	for _, root := range searchRoots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root {
					return err
				}
				return fs.SkipDir
			}
			if !d.IsDir() {
				return nil
			}
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			if m.Name != "" {
				if d.Name() == m.Name {
					out = append(out, path)
					return fs.SkipDir
				}
				return nil
			}
			if store.IsStoreDir(path) {
				out = append(out, path)
				return fs.SkipDir
			}
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("search %s: %w", root, err)
		}
	}
	return out, nil
}

// ExplicitPaths proposes configured paths. Relative paths are taken against
// every search root; a path that is not itself a store is tried again with
// Marker appended.
type ExplicitPaths struct {
	Paths  []string
	Marker string
}

func (e ExplicitPaths) Candidates(searchRoots []string) ([]string, error) {
	var out []string
	for _, root := range searchRoots {
		for _, raw := range e.Paths {
			p := expandHome(raw)
			if !filepath.IsAbs(p) {
				p = filepath.Join(root, p)
			}
			out = append(out, e.resolve(p))
		}
	}
	return out, nil
}

func (e ExplicitPaths) resolve(p string) string {
	if e.Marker == "" || filepath.Base(p) == e.Marker || store.IsStoreDir(p) {
		return p
	}
	return filepath.Join(p, e.Marker)
}

// DirResolver is the default Resolver: find the boundary above the host's
// owning directory, gather candidates under it and any external roots, keep
// the valid stores and always the host itself.
type DirResolver struct {
	Boundary        Boundary
	AllowNoBoundary bool
	ExternalRoots   []string
	Sources         []CandidateSource
	Logger          *zap.Logger
}

// NewDirResolver builds the resolver described by cfg.
func NewDirResolver(cfg config.DiscoveryConfig, logger *zap.Logger) *DirResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &DirResolver{
		Boundary:        GitBoundary{MaxLevels: cfg.MaxGitLookupLevels},
		AllowNoBoundary: cfg.AllowNoGitBoundary,
		ExternalRoots:   cfg.ExternalRoots,
		Logger:          logger,
	}
	if cfg.SearchMarkers {
		r.Sources = append(r.Sources, MarkerSearch{Name: cfg.MarkerName})
	}
	if len(cfg.CandidatePaths) > 0 {
		r.Sources = append(r.Sources, ExplicitPaths{Paths: cfg.CandidatePaths, Marker: cfg.MarkerName})
	}
	return r
}

func (r *DirResolver) Discover(host string) ([]BankContext, error) {
	host = canonical(host)
	hostOwner := filepath.Dir(host)

	boundary, found := "", false
	if r.Boundary != nil {
		boundary, found = r.Boundary.Find(hostOwner)
	}
	if !found && !r.AllowNoBoundary {
		return nil, fmt.Errorf("%w: no .git found above %s", store.ErrConfiguration, hostOwner)
	}

	searchRoots := []string{hostOwner}
	if found {
		searchRoots[0] = boundary
	}
	for _, ext := range r.ExternalRoots {
		searchRoots = append(searchRoots, canonical(expandHome(ext)))
	}
	var existing []string
	for _, root := range searchRoots {
		if _, err := os.Stat(root); err == nil {
			existing = append(existing, root)
		}
	}

	seen := map[string]bool{host: true}
	for _, src := range r.Sources {
		paths, err := src.Candidates(existing)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			seen[canonical(p)] = true
		}
	}
	candidates := make([]string, 0, len(seen))
	for p := range seen {
		candidates = append(candidates, p)
	}
	sort.Strings(candidates)

	var banks []BankContext
	for _, c := range candidates {
		if !store.IsStoreDir(c) {
			if c == host {
				r.Logger.Warn("host is not an initialized store", zap.String("root", c))
			}
			continue
		}
		owner := filepath.Dir(c)
		bound := owner
		if found {
			bound = boundary
		}
		banks = append(banks, BankContext{
			ID:           filepath.ToSlash(owner),
			Root:         c,
			RootDepth:    distance(owner, bound),
			HostDistance: distance(owner, hostOwner),
			IsHost:       c == host,
		})
	}
	r.Logger.Debug("discovered banks", zap.Int("count", len(banks)), zap.String("boundary", boundary))
	return banks, nil
}

// distance counts the path segments of a and b that are not shared.
func distance(a, b string) int {
	ap, bp := parts(a), parts(b)
	common := 0
	for common < len(ap) && common < len(bp) && ap[common] == bp[common] {
		common++
	}
	return (len(ap) - common) + (len(bp) - common)
}

func parts(p string) []string {
	var out []string
	for _, s := range strings.Split(filepath.Clean(p), string(filepath.Separator)) {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func canonical(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	return abs
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
