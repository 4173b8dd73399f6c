package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Resolution explains the outcome of ResolveUIDWithReason.
type Resolution string

const (
	ResolvedExact     Resolution = "exact"
	ResolvedPrefix    Resolution = "prefix"
	ResolvedAmbiguous Resolution = "ambiguous"
	ResolvedMissing   Resolution = "missing"
)

// SaveNode stores n in the inbox under discriminator variant (n.Type() when
// empty) and returns its uid. Saving the deprecated "active" variant with
// auto_archive_active on first archives every existing active node.
func (s *Store) SaveNode(n Node, variant string) (string, error) {
	if variant == "" {
		variant = string(n.Type())
	}
	h := n.Header()
	if h.UID == "" {
		return "", fmt.Errorf("%w: node has no uid", ErrInvalidArgument)
	}
	if h.Tags == nil {
		h.Tags = map[string]float64{}
	}
	for tag, w := range h.Tags {
		if w < 0 {
			return "", fmt.Errorf("%w: tag %q has negative weight", ErrInvalidArgument, tag)
		}
	}

	release, err := s.begin()
	if err != nil {
		return "", err
	}
	defer release()

	idx, err := s.loadIndex()
	if err != nil {
		return "", err
	}
	if strings.EqualFold(variant, VariantActive) && s.cfg.AutoArchiveActive {
		if err := s.archiveActive(idx, h.UID); err != nil {
			return "", err
		}
	}

	if prev, ok := idx.UIDFile[h.UID]; ok {
		if err := s.detach(idx, prev, h.UID); err != nil {
			return "", err
		}
	}

	inbox, err := s.readCluster(InboxCluster)
	if err != nil {
		return "", err
	}
	raw, err := EncodeNode(n, variant)
	if err != nil {
		return "", err
	}
	inbox[h.UID] = raw
	if err := s.writeCluster(InboxCluster, inbox); err != nil {
		return "", err
	}

	idx.UIDFile[h.UID] = InboxCluster
	addUnique(idx.Types, variant, h.UID)
	for tag := range h.Tags {
		addUnique(idx.Tags, tag, h.UID)
	}
	ensureCluster(idx, InboxCluster).Size = len(inbox)
	if err := s.saveIndex(idx); err != nil {
		return "", err
	}
	if err := s.touchRecent(h.UID); err != nil {
		return "", err
	}
	s.logger.Debug("node saved", zap.String("uid", h.UID), zap.String("type", variant))
	return h.UID, nil
}

// detach drops the index entries of a stored uid about to be re-saved and
// removes it from its topic cluster. An inbox copy is overwritten in place.
func (s *Store) detach(idx *Index, cluster, uid string) error {
	removeEverywhere(idx.Types, uid)
	removeEverywhere(idx.Tags, uid)
	if cluster == InboxCluster {
		return nil
	}
	c, err := s.readCluster(cluster)
	if err != nil {
		return err
	}
	delete(c, uid)
	if err := s.writeCluster(cluster, c); err != nil {
		return err
	}
	ensureCluster(idx, cluster).Size = len(c)
	return nil
}

// archiveActive rewrites every stored active node except skip as archived.
func (s *Store) archiveActive(idx *Index, skip string) error {
	uids := append([]string(nil), idx.Types[VariantActive]...)
	if len(uids) == 0 {
		return nil
	}
	touched := map[string]cluster{}
	for _, uid := range uids {
		if uid == skip {
			continue
		}
		name, ok := idx.UIDFile[uid]
		if !ok {
			removeValue(idx.Types, VariantActive, uid)
			continue
		}
		c, ok := touched[name]
		if !ok {
			var err error
			if c, err = s.readCluster(name); err != nil {
				return err
			}
			touched[name] = c
		}
		raw, ok := c[uid]
		if !ok {
			continue
		}
		archived, err := archivePayload(raw, "superseded by "+skip, s.now())
		if err != nil {
			return err
		}
		c[uid] = archived
		removeValue(idx.Types, VariantActive, uid)
		addUnique(idx.Types, VariantArchive, uid)
		s.logger.Info("archived active node", zap.String("uid", uid), zap.String("superseded_by", skip))
	}
	for name, c := range touched {
		if err := s.writeCluster(name, c); err != nil {
			return err
		}
	}
	return nil
}

// LoadNodes decodes the given uids, reading each owning cluster once. Unknown
// uids are skipped and the result is in no particular order.
func (s *Store) LoadNodes(uids []string) ([]Node, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	return s.loadNodes(idx, uids)
}

func (s *Store) loadNodes(idx *Index, uids []string) ([]Node, error) {
	byCluster := map[string][]string{}
	var order []string
	for _, uid := range uids {
		name, ok := idx.UIDFile[uid]
		if !ok {
			continue
		}
		if _, seen := byCluster[name]; !seen {
			order = append(order, name)
		}
		byCluster[name] = append(byCluster[name], uid)
	}

	var out []Node
	for _, name := range order {
		c, err := s.readCluster(name)
		if err != nil {
			return nil, err
		}
		for _, uid := range byCluster[name] {
			raw, ok := c[uid]
			if !ok {
				continue
			}
			n, err := DecodeNode(raw, s.logger)
			if err != nil {
				s.logger.Warn("skipping undecodable node", zap.String("uid", uid), zap.String("cluster", name), zap.Error(err))
				continue
			}
			out = append(out, n)
		}
	}
	return out, nil
}

// LoadNode returns the node with the exact uid, or nil if it does not exist.
func (s *Store) LoadNode(uid string) (Node, error) {
	nodes, err := s.LoadNodes([]string{uid})
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return nodes[0], nil
}

// LoadNodesByType returns every node that decodes as t, including those
// stored under legacy discriminators.
func (s *Store) LoadNodesByType(t Type) ([]Node, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	var uids []string
	for key, members := range idx.Types {
		if mayDecodeAs(key, t) {
			uids = append(uids, members...)
		}
	}
	nodes, err := s.loadNodes(idx, uids)
	if err != nil {
		return nil, err
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n.Type() == t {
			out = append(out, n)
		}
	}
	sortByCreated(out)
	return out, nil
}

// mayDecodeAs reports whether payloads stored under key can normalize to t.
func mayDecodeAs(key string, t Type) bool {
	name := strings.ToLower(key)
	switch name {
	case "ticket", string(TypeTask):
		if t == TypeBug || t == TypeIssue || t == TypeTask {
			return true
		}
	}
	got, _ := NormalizeType(name, false, nil, "")
	return got == t
}

// AllNodes returns every node in the store, oldest first.
func (s *Store) AllNodes() ([]Node, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	uids := make([]string, 0, len(idx.UIDFile))
	for uid := range idx.UIDFile {
		uids = append(uids, uid)
	}
	nodes, err := s.loadNodes(idx, uids)
	if err != nil {
		return nil, err
	}
	sortByCreated(nodes)
	return nodes, nil
}

func sortByCreated(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i].Header(), nodes[j].Header()
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.UID < b.UID
	})
}

// ResolveUIDWithReason resolves token to a stored uid by exact match or
// unique prefix. Ambiguous and missing tokens resolve to "".
func (s *Store) ResolveUIDWithReason(token string) (string, Resolution, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ResolvedMissing, nil
	}
	idx, err := s.loadIndex()
	if err != nil {
		return "", "", err
	}
	if _, ok := idx.UIDFile[token]; ok {
		return token, ResolvedExact, nil
	}
	var match string
	count := 0
	for uid := range idx.UIDFile {
		if strings.HasPrefix(uid, token) {
			match = uid
			count++
		}
	}
	switch {
	case count == 1:
		return match, ResolvedPrefix, nil
	case count > 1:
		return "", ResolvedAmbiguous, nil
	}
	return "", ResolvedMissing, nil
}

// ResolveUID is ResolveUIDWithReason with the reason mapped to errors.
func (s *Store) ResolveUID(token string) (string, error) {
	uid, reason, err := s.ResolveUIDWithReason(token)
	if err != nil {
		return "", err
	}
	switch reason {
	case ResolvedAmbiguous:
		return "", fmt.Errorf("%w: %s matches more than one node", ErrAmbiguous, token)
	case ResolvedMissing:
		return "", fmt.Errorf("%w: %s", ErrNotFound, token)
	}
	return uid, nil
}

// UpdateNodeStatus sets the status of a status-bearing node. It returns false
// when the node is missing or has no status. Payloads stored under a legacy
// discriminator are rewritten under the current one.
func (s *Store) UpdateNodeStatus(uid string, status Status) (bool, error) {
	release, err := s.begin()
	if err != nil {
		return false, err
	}
	defer release()

	idx, err := s.loadIndex()
	if err != nil {
		return false, err
	}
	name, ok := idx.UIDFile[uid]
	if !ok {
		return false, nil
	}
	c, err := s.readCluster(name)
	if err != nil {
		return false, err
	}
	raw, ok := c[uid]
	if !ok {
		return false, nil
	}
	n, err := DecodeNode(raw, s.logger)
	if err != nil {
		return false, err
	}
	sn, ok := n.(StatusNode)
	if !ok {
		return false, nil
	}
	sn.Tracking().Status = status
	n.Header().UpdatedAt = s.now()

	stored := payloadType(raw)
	current := string(n.Type())
	updated, err := EncodeNode(n, current)
	if err != nil {
		return false, err
	}
	c[uid] = updated
	if err := s.writeCluster(name, c); err != nil {
		return false, err
	}
	if stored != current {
		removeValue(idx.Types, stored, uid)
		addUnique(idx.Types, current, uid)
		if err := s.saveIndex(idx); err != nil {
			return false, err
		}
	}
	if err := s.touchRecent(uid); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveNode deletes a node with its links and every index and session
// reference to it. It returns false when uid is not stored.
func (s *Store) RemoveNode(uid string) (bool, error) {
	release, err := s.begin()
	if err != nil {
		return false, err
	}
	defer release()

	removed, err := s.removeMany([]string{uid})
	return removed > 0, err
}

// RemoveNodesByType deletes every node that decodes as t and returns how many
// were removed.
func (s *Store) RemoveNodesByType(t Type) (int, error) {
	nodes, err := s.LoadNodesByType(t)
	if err != nil {
		return 0, err
	}
	if len(nodes) == 0 {
		return 0, nil
	}
	uids := make([]string, len(nodes))
	for i, n := range nodes {
		uids[i] = n.Header().UID
	}

	release, err := s.begin()
	if err != nil {
		return 0, err
	}
	defer release()
	return s.removeMany(uids)
}

func (s *Store) removeMany(uids []string) (int, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return 0, err
	}
	gone := map[string]bool{}
	byCluster := map[string][]string{}
	for _, uid := range uids {
		name, ok := idx.UIDFile[uid]
		if !ok {
			continue
		}
		gone[uid] = true
		byCluster[name] = append(byCluster[name], uid)
	}
	if len(gone) == 0 {
		return 0, nil
	}

	for name, members := range byCluster {
		c, err := s.readCluster(name)
		if err != nil {
			return 0, err
		}
		for _, uid := range members {
			delete(c, uid)
		}
		if err := s.writeCluster(name, c); err != nil {
			return 0, err
		}
		ensureCluster(idx, name).Size = len(c)
	}

	for uid := range gone {
		delete(idx.UIDFile, uid)
		removeEverywhere(idx.Types, uid)
		removeEverywhere(idx.Tags, uid)
		delete(idx.LinksIn, uid)
		removeEverywhere(idx.LinksIn, uid)
	}

	links, err := s.readLinks()
	if err != nil {
		return 0, err
	}
	for source, items := range links {
		if gone[source] {
			delete(links, source)
			continue
		}
		kept := items[:0]
		for _, l := range items {
			if !gone[l.Target] {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(links, source)
		} else {
			links[source] = kept
		}
	}
	if err := s.writeLinks(links); err != nil {
		return 0, err
	}
	if err := s.saveIndex(idx); err != nil {
		return 0, err
	}
	if err := s.purgeRecent(func(uid string) bool { return !gone[uid] }); err != nil {
		return 0, err
	}
	s.logger.Debug("nodes removed", zap.Int("count", len(gone)))
	return len(gone), nil
}

// CreateMemoryFile writes content to additional_memory/<slug(title)>.md and
// returns the path. An existing file is left untouched.
func (s *Store) CreateMemoryFile(title, content string) (string, error) {
	name := slug(title)
	if name == "" {
		name = "memory"
	}
	path := filepath.Join(s.memoryDir, name+".md")
	if exists(path) {
		return path, nil
	}
	if err := os.MkdirAll(s.memoryDir, 0o755); err != nil {
		return "", fmt.Errorf("create additional_memory: %w", err)
	}
	if err := s.writeFile(path, []byte(content)); err != nil {
		return "", err
	}
	return path, nil
}

type rulesFile struct {
	Rules []string `json:"rules"`
}

// AddRule appends a rule expression to rules.json. Callers validate syntax.
func (s *Store) AddRule(rule string) error {
	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	var rf rulesFile
	if err := s.readJSON(s.rulesPath(), &rf); err != nil {
		return err
	}
	rf.Rules = append(rf.Rules, strings.TrimSpace(rule))
	return s.writeJSON(s.rulesPath(), rf)
}

// ListRules returns the stored rule expressions in insertion order.
func (s *Store) ListRules() ([]string, error) {
	rf := rulesFile{Rules: []string{}}
	if err := s.readJSON(s.rulesPath(), &rf); err != nil {
		return nil, err
	}
	return rf.Rules, nil
}

// LoadMood returns the per-tag mood values.
func (s *Store) LoadMood() (map[string]float64, error) {
	mood := map[string]float64{}
	if err := s.readJSON(s.moodPath(), &mood); err != nil {
		return nil, err
	}
	if mood == nil {
		mood = map[string]float64{}
	}
	return mood, nil
}

// SaveMood replaces mood.json.
func (s *Store) SaveMood(mood map[string]float64) error {
	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()
	return s.writeJSON(s.moodPath(), mood)
}

// rawPayload returns the stored JSON for uid, or nil.
func (s *Store) rawPayload(uid string) (json.RawMessage, error) {
	idx, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	name, ok := idx.UIDFile[uid]
	if !ok {
		return nil, nil
	}
	c, err := s.readCluster(name)
	if err != nil {
		return nil, err
	}
	return c[uid], nil
}
