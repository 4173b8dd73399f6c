// Package mood tracks a per-tag sentiment value smoothed with an exponential
// moving average.
package mood

import (
	"fmt"

	"github.com/lazypower/membank/internal/config"
)

// Backend persists the mood map.
type Backend interface {
	LoadMood() (map[string]float64, error)
	SaveMood(map[string]float64) error
}

// Tracker reads and reports mood values.
type Tracker struct {
	backend   Backend
	def       float64
	smoothing float64
}

// New returns a Tracker using cfg's default and smoothing factor.
func New(backend Backend, cfg config.MoodConfig) *Tracker {
	return &Tracker{backend: backend, def: cfg.Default, smoothing: cfg.Smoothing}
}

// Get returns the mood for tag, or the default when none was reported.
func (t *Tracker) Get(tag string) (float64, error) {
	m, err := t.backend.LoadMood()
	if err != nil {
		return 0, fmt.Errorf("load mood: %w", err)
	}
	if v, ok := m[tag]; ok {
		return v, nil
	}
	return t.def, nil
}

// Report folds value into tag's mood, old*(1-a) + value*a, and returns the
// new value.
func (t *Tracker) Report(tag string, value float64) (float64, error) {
	m, err := t.backend.LoadMood()
	if err != nil {
		return 0, fmt.Errorf("load mood: %w", err)
	}
	old, ok := m[tag]
	if !ok {
		old = t.def
	}
	next := old*(1-t.smoothing) + value*t.smoothing
	m[tag] = next
	if err := t.backend.SaveMood(m); err != nil {
		return 0, fmt.Errorf("save mood: %w", err)
	}
	return next, nil
}

// All returns every reported mood value.
func (t *Tracker) All() (map[string]float64, error) {
	return t.backend.LoadMood()
}

// Default is the value assumed for unreported tags.
func (t *Tracker) Default() float64 { return t.def }
