package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ErrUnknownKey is returned by Set and Get for keys that are not part of Config.
var ErrUnknownKey = errors.New("unknown config key")

// Config holds all membank settings for one store root (config.toml).
type Config struct {
	AutoArchiveActive bool             `toml:"auto_archive_active"`
	Prune             PruneConfig      `toml:"prune"`
	Decay             DecayConfig      `toml:"decay"`
	Mood              MoodConfig       `toml:"mood"`
	Retrieval         RetrievalConfig  `toml:"retrieval"`
	Session           SessionConfig    `toml:"session"`
	Storage           StorageConfig    `toml:"storage"`
	Journal           JournalConfig    `toml:"journal"`
	Server            ServerConfig     `toml:"server"`
	Federation        FederationConfig `toml:"federation"`
}

type PruneConfig struct {
	AutoThreshold  int `toml:"auto_threshold"`   // inbox size that triggers prune after node add; 0 disables
	MaxClusterSize int `toml:"max_cluster_size"` // 0 = unbounded
}

type DecayConfig struct {
	HalfLifeDays int `toml:"half_life_days"`
}

type MoodConfig struct {
	Default   float64 `toml:"default"`
	Smoothing float64 `toml:"smoothing"`
}

type RetrievalConfig struct {
	ResistanceThreshold float64 `toml:"resistance_threshold"`
	DefaultLimit        int     `toml:"default_limit"`
}

type SessionConfig struct {
	MaxAgeHours int `toml:"max_age_hours"`
}

type StorageConfig struct {
	Lock         bool `toml:"lock"`          // advisory flock around every mutation
	AtomicWrites bool `toml:"atomic_writes"` // write temp file + rename
}

type JournalConfig struct {
	Enabled bool `toml:"enabled"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type FederationConfig struct {
	Discovery DiscoveryConfig `toml:"discovery"`
	Scoring   ScoringConfig   `toml:"scoring"`
}

type DiscoveryConfig struct {
	MaxGitLookupLevels int      `toml:"max_git_lookup_levels"`
	AllowNoGitBoundary bool     `toml:"allow_no_git_boundary"`
	SearchMarkers      bool     `toml:"search_markers"`
	MarkerName         string   `toml:"marker_name"` // exact directory name; empty accepts any valid store dir
	CandidatePaths     []string `toml:"candidate_paths"`
	ExternalRoots      []string `toml:"external_roots"`
}

type ScoringConfig struct {
	RootImportanceBase  float64           `toml:"root_importance_base"`
	RootDistanceDecay   float64           `toml:"root_distance_decay"`
	HostRelevanceBase   float64           `toml:"host_relevance_base"`
	HostDistanceDecay   float64           `toml:"host_distance_decay"`
	CrossBankLinkWeight float64           `toml:"cross_bank_link_weight"`
	BankPathPenalties   []PathPenaltyRule `toml:"bank_path_penalties"`
}

// PathPenaltyRule scales a bank's multiplier when Pattern matches its path.
type PathPenaltyRule struct {
	Pattern    string  `toml:"pattern"`
	Multiplier float64 `toml:"multiplier"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		AutoArchiveActive: true,
		Prune: PruneConfig{
			AutoThreshold:  20,
			MaxClusterSize: 100,
		},
		Decay: DecayConfig{HalfLifeDays: 7},
		Mood: MoodConfig{
			Default:   0.5,
			Smoothing: 0.1,
		},
		Retrieval: RetrievalConfig{
			ResistanceThreshold: 0.01,
			DefaultLimit:        5,
		},
		Session: SessionConfig{MaxAgeHours: 48},
		Journal: JournalConfig{Enabled: true},
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Federation: FederationConfig{
			Discovery: DiscoveryConfig{
				MaxGitLookupLevels: 8,
				SearchMarkers:      true,
				MarkerName:         ".membank",
				CandidatePaths:     []string{},
				ExternalRoots:      []string{},
			},
			Scoring: ScoringConfig{
				RootImportanceBase:  1.0,
				RootDistanceDecay:   0.15,
				HostRelevanceBase:   1.0,
				HostDistanceDecay:   0.25,
				CrossBankLinkWeight: 0.35,
				BankPathPenalties:   []PathPenaltyRule{},
			},
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Load reads config.toml at path. A missing file yields Default(); keys absent
// from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Write serializes cfg to path as TOML.
func Write(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Set updates a dotted key (e.g. "mood.smoothing") in the file at path and
// returns the resulting Config. The raw value is parsed according to the
// type of the existing setting.
func Set(path, key, raw string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	tree, err := toTree(cfg)
	if err != nil {
		return cfg, err
	}

	parts := strings.Split(key, ".")
	parent, err := walk(tree, parts[:len(parts)-1])
	if err != nil {
		return cfg, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	leaf := parts[len(parts)-1]
	current, ok := parent[leaf]
	if !ok {
		return cfg, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	value, err := parseAs(current, raw)
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", key, err)
	}
	parent[leaf] = value

	data, err := toml.Marshal(tree)
	if err != nil {
		return cfg, fmt.Errorf("encode config: %w", err)
	}
	updated := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&updated); err != nil {
		return cfg, fmt.Errorf("config %s: %w", key, err)
	}
	if err := Write(path, updated); err != nil {
		return cfg, err
	}
	return updated, nil
}

// Get returns the value at a dotted key rendered as a string.
func Get(cfg Config, key string) (string, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return "", err
	}
	parts := strings.Split(key, ".")
	parent, err := walk(tree, parts[:len(parts)-1])
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	value, ok := parent[parts[len(parts)-1]]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return fmt.Sprint(value), nil
}

// Encode renders cfg as TOML text.
func Encode(cfg Config) (string, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}

func toTree(cfg Config) (map[string]any, error) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	tree := map[string]any{}
	if err := toml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode config tree: %w", err)
	}
	return tree, nil
}

func walk(tree map[string]any, path []string) (map[string]any, error) {
	cur := tree
	for _, p := range path {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("no table %q", p)
		}
		cur = next
	}
	return cur, nil
}

func parseAs(current any, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch current.(type) {
	case bool:
		return strconv.ParseBool(strings.ToLower(raw))
	case int64:
		return strconv.ParseInt(raw, 10, 64)
	case float64:
		return strconv.ParseFloat(raw, 64)
	case string:
		return raw, nil
	case []any:
		if raw == "" {
			return []any{}, nil
		}
		var out []any
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot set value of type %T from the command line", current)
	}
}
