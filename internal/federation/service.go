// Package federation aggregates nodes and links across every bank visible
// from a host store and weights them by how far each bank sits from the host.
package federation

import (
	"fmt"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/lazypower/membank/internal/config"
	"github.com/lazypower/membank/internal/store"
)

// Aggregate is the merged view handed to retrieval.
type Aggregate struct {
	Banks       []BankContext
	Nodes       []store.Node
	Links       []*store.Link
	Multipliers map[string]float64
}

type penalty struct {
	re         *regexp.Regexp
	multiplier float64
}

// Service federates reads over the banks a Resolver discovers.
type Service struct {
	host      string
	scoring   config.ScoringConfig
	penalties []penalty
	resolver  Resolver
	storeOpts []store.Option
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithResolver replaces the DirResolver built from the config.
func WithResolver(r Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithStoreOptions passes opts to every bank store opened.
func WithStoreOptions(opts ...store.Option) Option {
	return func(s *Service) { s.storeOpts = append(s.storeOpts, opts...) }
}

// New returns a Service for the store rooted at host.
func New(host string, cfg config.FederationConfig, opts ...Option) *Service {
	s := &Service{
		host:    canonical(host),
		scoring: cfg.Scoring,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.resolver == nil {
		s.resolver = NewDirResolver(cfg.Discovery, s.logger)
	}
	for _, rule := range cfg.Scoring.BankPathPenalties {
		if rule.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			s.logger.Warn("skipping bad bank path penalty", zap.String("pattern", rule.Pattern), zap.Error(err))
			continue
		}
		s.penalties = append(s.penalties, penalty{re: re, multiplier: rule.Multiplier})
	}
	return s
}

// DiscoverBanks returns every bank visible from the host, sorted by root.
func (s *Service) DiscoverBanks() ([]BankContext, error) {
	banks, err := s.resolver.Discover(s.host)
	if err != nil {
		return nil, fmt.Errorf("discover banks: %w", err)
	}
	return banks, nil
}

// Multiplier is the retrieval weight of nodes from b.
func (s *Service) Multiplier(b BankContext) float64 {
	sc := s.scoring
	root := sc.RootImportanceBase / (1 + sc.RootDistanceDecay*float64(b.RootDepth))
	host := sc.HostRelevanceBase / (1 + sc.HostDistanceDecay*float64(b.HostDistance))
	m := root * host * s.pathPenalty(b.ID)
	if m < 0 {
		return 0
	}
	return m
}

func (s *Service) pathPenalty(bankPath string) float64 {
	m := 1.0
	for _, p := range s.penalties {
		if p.re.MatchString(bankPath) {
			m *= p.multiplier
		}
	}
	if m < 0 {
		return 0
	}
	return m
}

func (s *Service) open(b BankContext) (*store.Store, error) {
	opts := append([]store.Option{store.WithLogger(s.logger)}, s.storeOpts...)
	st, err := store.Open(b.Root, opts...)
	if err != nil {
		return nil, fmt.Errorf("open bank %s: %w", b.ID, err)
	}
	return st, nil
}

// AggregateForFocus loads every bank's nodes and links, assigns each node
// its bank's multiplier, and adds synthetic links between host nodes and
// peer nodes that share a query tag.
func (s *Service) AggregateForFocus(queryTags []string) (*Aggregate, error) {
	banks, err := s.DiscoverBanks()
	if err != nil {
		return nil, err
	}
	agg := &Aggregate{Banks: banks, Multipliers: map[string]float64{}}
	var hostNodes []store.Node
	var peers [][]store.Node
	for _, b := range banks {
		st, err := s.open(b)
		if err != nil {
			return nil, err
		}
		nodes, err := st.AllNodes()
		if err != nil {
			return nil, fmt.Errorf("load nodes of %s: %w", b.ID, err)
		}
		links, err := st.AllLinks()
		if err != nil {
			return nil, fmt.Errorf("load links of %s: %w", b.ID, err)
		}
		agg.Nodes = append(agg.Nodes, nodes...)
		agg.Links = append(agg.Links, links...)

		m := s.Multiplier(b)
		for _, n := range nodes {
			// A uid lives in one bank; max only matters for copied stores.
			if cur, ok := agg.Multipliers[n.Header().UID]; !ok || m > cur {
				agg.Multipliers[n.Header().UID] = m
			}
		}
		if b.IsHost {
			hostNodes = nodes
		} else {
			peers = append(peers, nodes)
		}
	}
	agg.Links = append(agg.Links, s.crossBankLinks(hostNodes, peers, queryTags)...)
	return agg, nil
}

func (s *Service) crossBankLinks(host []store.Node, peers [][]store.Node, queryTags []string) []*store.Link {
	if len(queryTags) == 0 {
		return nil
	}
	query := map[string]bool{}
	for _, t := range queryTags {
		query[t] = true
	}
	var out []*store.Link
	for _, peer := range peers {
		for _, h := range host {
			for _, r := range peer {
				var overlap []string
				for t := range query {
					if _, ok := h.Header().Tags[t]; !ok {
						continue
					}
					if _, ok := r.Header().Tags[t]; ok {
						overlap = append(overlap, t)
					}
				}
				if len(overlap) == 0 {
					continue
				}
				sort.Strings(overlap)
				w := s.scoring.CrossBankLinkWeight * float64(len(overlap))
				hu, ru := h.Header().UID, r.Header().UID
				out = append(out,
					store.NewLink(hu, ru, overlap, w),
					store.NewLink(ru, hu, append([]string(nil), overlap...), w),
				)
			}
		}
	}
	return out
}

// AggregateNodes returns the nodes of every bank, optionally of one type.
func (s *Service) AggregateNodes(t store.Type) ([]store.Node, error) {
	banks, err := s.DiscoverBanks()
	if err != nil {
		return nil, err
	}
	var out []store.Node
	for _, b := range banks {
		st, err := s.open(b)
		if err != nil {
			return nil, err
		}
		var nodes []store.Node
		if t == "" {
			nodes, err = st.AllNodes()
		} else {
			nodes, err = st.LoadNodesByType(t)
		}
		if err != nil {
			return nil, fmt.Errorf("load nodes of %s: %w", b.ID, err)
		}
		out = append(out, nodes...)
	}
	return out, nil
}

type match struct {
	bank  BankContext
	store *store.Store
	uid   string
}

// resolve finds the single bank that resolves token. A prefix that is
// ambiguous inside one bank or matches in several banks is ErrAmbiguous.
func (s *Service) resolve(token string) (*match, error) {
	banks, err := s.DiscoverBanks()
	if err != nil {
		return nil, err
	}
	var found []*match
	for _, b := range banks {
		st, err := s.open(b)
		if err != nil {
			return nil, err
		}
		uid, reason, err := st.ResolveUIDWithReason(token)
		if err != nil {
			return nil, err
		}
		switch reason {
		case store.ResolvedAmbiguous:
			return nil, fmt.Errorf("%w: %q matches several nodes in %s", store.ErrAmbiguous, token, b.ID)
		case store.ResolvedExact, store.ResolvedPrefix:
			found = append(found, &match{bank: b, store: st, uid: uid})
		}
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("%w: %q matches nodes in %d banks", store.ErrAmbiguous, token, len(found))
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// AggregateNodeByUID loads the node token resolves to in any bank, or nil.
func (s *Service) AggregateNodeByUID(token string) (store.Node, error) {
	m, err := s.resolve(token)
	if err != nil || m == nil {
		return nil, err
	}
	return m.store.LoadNode(m.uid)
}

// AggregateLinksBySourceUID returns the outgoing links of the node token
// resolves to. An unresolvable token is ErrNotFound.
func (s *Service) AggregateLinksBySourceUID(token string) ([]*store.Link, error) {
	m, err := s.resolve(token)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %q in any bank", store.ErrNotFound, token)
	}
	return m.store.LoadLinks([]string{m.uid})
}
