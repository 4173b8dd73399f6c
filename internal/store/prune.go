package store

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Prune moves every inbox node into a topic cluster named after the inbox's
// two heaviest tags, empties the inbox, rebuilds the index from disk and
// drops stale recent uids from every session. It returns the cluster the
// nodes landed in, or InboxCluster when there was nothing to move.
//
// With prune.max_cluster_size set, a full target rolls over to name-2,
// name-3 and so on.
func (s *Store) Prune() (string, error) {
	release, err := s.begin()
	if err != nil {
		return "", err
	}
	defer release()

	inbox, err := s.readCluster(InboxCluster)
	if err != nil {
		return "", err
	}
	if len(inbox) == 0 {
		return InboxCluster, nil
	}

	weights := map[string]float64{}
	for _, raw := range inbox {
		for tag, w := range payloadTags(raw) {
			weights[tag] += w
		}
	}
	name := DeriveClusterName(weights)
	if name == InboxCluster {
		// Nothing to name the cluster after; leave the nodes where they are.
		if _, err := s.rebuildIndex(); err != nil {
			return "", err
		}
		return InboxCluster, nil
	}

	target, existing, err := s.pickCluster(name, len(inbox))
	if err != nil {
		return "", err
	}
	for uid, raw := range inbox {
		existing[uid] = raw
	}
	if err := s.writeCluster(target, existing); err != nil {
		return "", err
	}
	if err := s.writeCluster(InboxCluster, cluster{}); err != nil {
		return "", err
	}

	idx, err := s.rebuildIndex()
	if err != nil {
		return "", err
	}
	if err := s.purgeRecent(func(uid string) bool {
		_, ok := idx.UIDFile[uid]
		return ok
	}); err != nil {
		return "", err
	}
	s.logger.Info("pruned inbox", zap.String("cluster", target), zap.Int("nodes", len(inbox)))
	return target, nil
}

// pickCluster returns the first of name, name-2, name-3, ... that can take
// incoming more nodes, along with its current contents.
func (s *Store) pickCluster(name string, incoming int) (string, cluster, error) {
	limit := s.cfg.Prune.MaxClusterSize
	candidate := name
	for i := 2; ; i++ {
		c, err := s.readCluster(candidate)
		if err != nil {
			return "", nil, err
		}
		if limit <= 0 || len(c) == 0 || len(c)+incoming <= limit {
			return candidate, c, nil
		}
		candidate = fmt.Sprintf("%s-%d", name, i)
	}
}

// RebuildIndex reconstructs index.json from the cluster files and links.json.
func (s *Store) RebuildIndex() (*Index, error) {
	release, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.rebuildIndex()
}

func (s *Store) rebuildIndex() (*Index, error) {
	idx := NewIndex()
	names, err := s.clusterNames()
	if err != nil {
		return nil, err
	}
	ensureCluster(idx, InboxCluster)

	for _, name := range names {
		c, err := s.readCluster(name)
		if err != nil {
			return nil, err
		}
		uids := make([]string, 0, len(c))
		for uid := range c {
			uids = append(uids, uid)
		}
		sort.Strings(uids)

		weights := map[string]float64{}
		size := 0
		for _, uid := range uids {
			if owner, dup := idx.UIDFile[uid]; dup {
				s.logger.Warn("uid stored in two clusters", zap.String("uid", uid), zap.String("kept", owner), zap.String("ignored", name))
				continue
			}
			raw := c[uid]
			idx.UIDFile[uid] = name
			addUnique(idx.Types, payloadType(raw), uid)
			for tag, w := range payloadTags(raw) {
				addUnique(idx.Tags, tag, uid)
				weights[tag] += w
			}
			size++
		}
		meta := ensureCluster(idx, name)
		meta.Size = size
		meta.TopTags = topTags(weights, 3)
	}

	links, err := s.readLinks()
	if err != nil {
		return nil, err
	}
	sources := make([]string, 0, len(links))
	for source := range links {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	for _, source := range sources {
		for _, l := range links[source] {
			addUnique(idx.LinksIn, l.Target, source)
		}
	}

	if err := s.saveIndex(idx); err != nil {
		return nil, err
	}
	return idx, nil
}
