package store

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MinLinkDecay is the floor DecayLinks never goes below.
const MinLinkDecay = 0.1

// Link is a directed, tagged, weighted edge between two nodes. Links are
// stored in links.json under their source uid.
type Link struct {
	UID          string    `json:"uid"`
	Source       string    `json:"source"`
	Target       string    `json:"target"`
	Tags         []string  `json:"tags"`
	Weight       float64   `json:"weight"`
	Decay        float64   `json:"decay"`
	UsageCount   int       `json:"usage_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`
}

// NewLink returns a link with a fresh uid, decay 1 and usage count 1.
func NewLink(source, target string, tags []string, weight float64) *Link {
	now := time.Now().UTC()
	if tags == nil {
		tags = []string{}
	}
	return &Link{
		UID:          uuid.NewString(),
		Source:       source,
		Target:       target,
		Tags:         tags,
		Weight:       weight,
		Decay:        1.0,
		UsageCount:   1,
		CreatedAt:    now,
		LastAccessed: now,
	}
}

// Chain builds the links uids[0]->uids[1]->...->uids[n-1].
func Chain(uids []string, tags []string, weight float64) ([]*Link, error) {
	if len(uids) < 2 {
		return nil, fmt.Errorf("%w: chain needs at least two uids", ErrInvalidArgument)
	}
	out := make([]*Link, 0, len(uids)-1)
	for i := 0; i+1 < len(uids); i++ {
		out = append(out, NewLink(uids[i], uids[i+1], append([]string(nil), tags...), weight))
	}
	return out, nil
}

func (s *Store) readLinks() (map[string][]*Link, error) {
	links := map[string][]*Link{}
	if err := s.readJSON(s.linksPath(), &links); err != nil {
		return nil, err
	}
	if links == nil {
		links = map[string][]*Link{}
	}
	return links, nil
}

func (s *Store) writeLinks(links map[string][]*Link) error {
	return s.writeJSON(s.linksPath(), links)
}

// SaveLink stores one link and returns its uid.
func (s *Store) SaveLink(l *Link) (string, error) {
	if _, err := s.SaveLinks([]*Link{l}); err != nil {
		return "", err
	}
	return l.UID, nil
}

// SaveLinks stores links and updates links_in in one unit of work.
func (s *Store) SaveLinks(links []*Link) ([]string, error) {
	for _, l := range links {
		if l.Source == "" || l.Target == "" {
			return nil, fmt.Errorf("%w: link needs a source and a target", ErrInvalidArgument)
		}
		if l.UID == "" {
			l.UID = uuid.NewString()
		}
		if l.Tags == nil {
			l.Tags = []string{}
		}
	}

	release, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	stored, err := s.readLinks()
	if err != nil {
		return nil, err
	}
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	uids := make([]string, 0, len(links))
	for _, l := range links {
		stored[l.Source] = append(stored[l.Source], l)
		addUnique(idx.LinksIn, l.Target, l.Source)
		uids = append(uids, l.UID)
	}
	if err := s.writeLinks(stored); err != nil {
		return nil, err
	}
	if err := s.saveIndex(idx); err != nil {
		return nil, err
	}
	s.logger.Debug("links saved", zap.Int("count", len(links)))
	return uids, nil
}

// LoadLinks returns the outgoing links of the given sources.
func (s *Store) LoadLinks(sources []string) ([]*Link, error) {
	stored, err := s.readLinks()
	if err != nil {
		return nil, err
	}
	var out []*Link
	for _, source := range sources {
		out = append(out, stored[source]...)
	}
	return out, nil
}

// LoadIncoming returns the links whose target is uid, using links_in.
func (s *Store) LoadIncoming(uid string) ([]*Link, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	stored, err := s.readLinks()
	if err != nil {
		return nil, err
	}
	var out []*Link
	for _, source := range idx.LinksIn[uid] {
		for _, l := range stored[source] {
			if l.Target == uid {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

// AllLinks returns every stored link, grouped by source in sorted order.
func (s *Store) AllLinks() ([]*Link, error) {
	stored, err := s.readLinks()
	if err != nil {
		return nil, err
	}
	sources := make([]string, 0, len(stored))
	for source := range stored {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	var out []*Link
	for _, source := range sources {
		out = append(out, stored[source]...)
	}
	return out, nil
}

// AdjustLinkWeightsByTags adds delta to the weight of every link carrying all
// of tags and returns how many links changed.
func (s *Store) AdjustLinkWeightsByTags(tags []string, delta float64) (int, error) {
	if len(tags) == 0 {
		return 0, fmt.Errorf("%w: at least one tag is required", ErrInvalidArgument)
	}
	return s.updateLinks(func(l *Link) bool {
		have := make(map[string]bool, len(l.Tags))
		for _, t := range l.Tags {
			have[t] = true
		}
		for _, t := range tags {
			if !have[t] {
				return false
			}
		}
		l.Weight += delta
		return true
	})
}

// TouchLink records a use of the link: usage_count is incremented, decay is
// reset to 1 and last_accessed is set to now. It returns false if no link has
// that uid.
func (s *Store) TouchLink(uid string) (bool, error) {
	now := s.now()
	n, err := s.updateLinks(func(l *Link) bool {
		if l.UID != uid {
			return false
		}
		l.UsageCount++
		l.Decay = 1.0
		l.LastAccessed = now
		return true
	})
	return n > 0, err
}

// DecayLinks ages every link by 0.5^(elapsed/halfLife) since its
// last_accessed time. Decay only ever decreases and never drops below
// MinLinkDecay. It returns how many links changed.
func (s *Store) DecayLinks(halfLife time.Duration, now time.Time) (int, error) {
	if halfLife <= 0 {
		return 0, fmt.Errorf("%w: half-life must be positive", ErrInvalidArgument)
	}
	return s.updateLinks(func(l *Link) bool {
		elapsed := now.Sub(l.LastAccessed)
		if elapsed <= 0 {
			return false
		}
		next := math.Max(math.Pow(0.5, float64(elapsed)/float64(halfLife)), MinLinkDecay)
		if next >= l.Decay {
			return false
		}
		l.Decay = next
		return true
	})
}

// updateLinks applies fn to every stored link and writes links.json when at
// least one call reports a change.
func (s *Store) updateLinks(fn func(*Link) bool) (int, error) {
	release, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer release()

	stored, err := s.readLinks()
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, items := range stored {
		for _, l := range items {
			if fn(l) {
				changed++
			}
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.writeLinks(stored); err != nil {
		return 0, err
	}
	return changed, nil
}
