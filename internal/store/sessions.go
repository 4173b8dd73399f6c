package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxRecent bounds Session.RecentUIDs.
const MaxRecent = 10

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateSessionID rejects ids that cannot name a file inside the session
// bucket.
func ValidateSessionID(id string) error {
	if !sessionIDRe.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: bad session id %q", ErrInvalidArgument, id)
	}
	return nil
}

// Session records which nodes a caller has already been shown.
type Session struct {
	ID         string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	ServedUIDs []string  `json:"served_uids"`
	RecentUIDs []string  `json:"recent_uids"`
}

// Served reports whether uid has been shown in this session.
func (s *Session) Served(uid string) bool {
	for _, u := range s.ServedUIDs {
		if u == uid {
			return true
		}
	}
	return false
}

// SessionIndex lists the sessions of one store, most recent first.
type SessionIndex struct {
	ActiveSessionID string   `json:"active_session_id"`
	SessionIDs      []string `json:"session_ids"`
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:         id,
		CreatedAt:  now,
		ServedUIDs: []string{},
		RecentUIDs: []string{},
	}
}

// SessionDir returns the user-scoped directory holding this store's sessions.
func (s *Store) SessionDir() string {
	return filepath.Join(s.stateRoot, "sessions", pathKey(s.root))
}

func (s *Store) sessionIndexPath() string {
	return filepath.Join(s.SessionDir(), "index.json")
}

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.SessionDir(), id+".json")
}

func (s *Store) loadSessionIndex() (*SessionIndex, error) {
	si := &SessionIndex{SessionIDs: []string{}}
	if err := s.readJSON(s.sessionIndexPath(), si); err != nil {
		return nil, err
	}
	if si.SessionIDs == nil {
		si.SessionIDs = []string{}
	}
	return si, nil
}

func (s *Store) saveSessionIndex(si *SessionIndex) error {
	if err := os.MkdirAll(s.SessionDir(), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return s.writeJSON(s.sessionIndexPath(), si)
}

func (s *Store) loadSession(id string) (*Session, error) {
	if !exists(s.sessionPath(id)) {
		return nil, nil
	}
	sess := newSession(id, time.Time{})
	if err := s.readJSON(s.sessionPath(id), sess); err != nil {
		return nil, err
	}
	if sess.ID == "" {
		sess.ID = id
	}
	return sess, nil
}

func (s *Store) saveSession(sess *Session) error {
	if err := os.MkdirAll(s.SessionDir(), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return s.writeJSON(s.sessionPath(sess.ID), sess)
}

func (s *Store) deleteSession(id string) error {
	err := os.Remove(s.sessionPath(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session %s: %w", id, err)
	}
	return nil
}

func (s *Store) expired(sess *Session) bool {
	hours := s.cfg.Session.MaxAgeHours
	if hours <= 0 {
		return false
	}
	return s.now().Sub(sess.CreatedAt) > time.Duration(hours)*time.Hour
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// ActivateSession makes a session active and returns it. The id is the first
// non-empty of explicitID, overrideID and the current active session; a new
// id is generated when all are empty. Missing or expired sessions are
// created fresh under that id.
func (s *Store) ActivateSession(explicitID, overrideID string) (*Session, error) {
	id := explicitID
	if id == "" {
		id = overrideID
	}
	if id == "" {
		active, err := s.LoadActiveSession()
		if err != nil {
			return nil, err
		}
		if active != nil {
			id = active.ID
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}

	sess, err := s.loadSession(id)
	if err != nil {
		return nil, err
	}
	if sess == nil || s.expired(sess) {
		sess = newSession(id, s.now())
		if err := s.saveSession(sess); err != nil {
			return nil, err
		}
	}

	si, err := s.loadSessionIndex()
	if err != nil {
		return nil, err
	}
	si.SessionIDs = append([]string{id}, without(si.SessionIDs, id)...)
	si.ActiveSessionID = id
	if err := s.saveSessionIndex(si); err != nil {
		return nil, err
	}
	s.logger.Debug("session activated", zap.String("session", id))
	return sess, nil
}

// LoadActiveSession returns the active session or nil. A dangling active id
// is healed by recreating an empty session under it; an expired session is
// cleared and reported absent.
func (s *Store) LoadActiveSession() (*Session, error) {
	si, err := s.loadSessionIndex()
	if err != nil {
		return nil, err
	}
	if si.ActiveSessionID == "" {
		return nil, nil
	}
	id := si.ActiveSessionID
	sess, err := s.loadSession(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = newSession(id, s.now())
		if err := s.saveSession(sess); err != nil {
			return nil, err
		}
		if len(si.SessionIDs) == 0 || si.SessionIDs[0] != id {
			si.SessionIDs = append([]string{id}, without(si.SessionIDs, id)...)
			if err := s.saveSessionIndex(si); err != nil {
				return nil, err
			}
		}
		s.logger.Warn("recreated missing active session", zap.String("session", id))
		return sess, nil
	}
	if s.expired(sess) {
		if err := s.dropSession(si, id); err != nil {
			return nil, err
		}
		s.logger.Debug("expired session cleared", zap.String("session", id))
		return nil, nil
	}
	return sess, nil
}

func (s *Store) dropSession(si *SessionIndex, id string) error {
	if err := s.deleteSession(id); err != nil {
		return err
	}
	si.SessionIDs = without(si.SessionIDs, id)
	if si.ActiveSessionID == id {
		si.ActiveSessionID = ""
	}
	return s.saveSessionIndex(si)
}

// ClearSession tears down the active session and returns its id, or "" when
// there was none.
func (s *Store) ClearSession() (string, error) {
	si, err := s.loadSessionIndex()
	if err != nil {
		return "", err
	}
	id := si.ActiveSessionID
	if id == "" {
		return "", nil
	}
	if err := s.dropSession(si, id); err != nil {
		return "", err
	}
	return id, nil
}

// ResetSession empties the served and recent lists of session id, or of the
// active session when id is empty. It returns nil when there is no such
// session.
func (s *Store) ResetSession(id string) (*Session, error) {
	var sess *Session
	var err error
	if id == "" {
		sess, err = s.LoadActiveSession()
	} else {
		if err := ValidateSessionID(id); err != nil {
			return nil, err
		}
		sess, err = s.loadSession(id)
	}
	if err != nil || sess == nil {
		return nil, err
	}
	sess.ServedUIDs = []string{}
	sess.RecentUIDs = []string{}
	if err := s.saveSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RecordServed appends the uids not yet served to sess, in order, persists
// the session and returns the newly recorded uids.
func (s *Store) RecordServed(sess *Session, uids []string) ([]string, error) {
	if sess == nil {
		return nil, nil
	}
	seen := make(map[string]bool, len(sess.ServedUIDs))
	for _, u := range sess.ServedUIDs {
		seen[u] = true
	}
	var added []string
	for _, u := range uids {
		if seen[u] {
			continue
		}
		seen[u] = true
		sess.ServedUIDs = append(sess.ServedUIDs, u)
		added = append(added, u)
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := s.saveSession(sess); err != nil {
		return nil, err
	}
	return added, nil
}

// touchRecent moves uid to the front of the active session's recent list.
func (s *Store) touchRecent(uid string) error {
	sess, err := s.LoadActiveSession()
	if err != nil || sess == nil {
		return err
	}
	recent := append([]string{uid}, without(sess.RecentUIDs, uid)...)
	if len(recent) > MaxRecent {
		recent = recent[:MaxRecent]
	}
	sess.RecentUIDs = recent
	return s.saveSession(sess)
}

// purgeRecent drops recent uids for which keep returns false from every
// session of this store.
func (s *Store) purgeRecent(keep func(uid string) bool) error {
	si, err := s.loadSessionIndex()
	if err != nil {
		return err
	}
	for _, id := range si.SessionIDs {
		sess, err := s.loadSession(id)
		if err != nil {
			return err
		}
		if sess == nil {
			continue
		}
		kept := make([]string, 0, len(sess.RecentUIDs))
		for _, uid := range sess.RecentUIDs {
			if keep(uid) {
				kept = append(kept, uid)
			}
		}
		if len(kept) == len(sess.RecentUIDs) {
			continue
		}
		sess.RecentUIDs = kept
		if err := s.saveSession(sess); err != nil {
			return err
		}
	}
	return nil
}

// ResolveRecentUID returns the n-th (1-based) most recently touched uid of
// the active session.
func (s *Store) ResolveRecentUID(n int) (string, bool, error) {
	sess, err := s.LoadActiveSession()
	if err != nil || sess == nil {
		return "", false, err
	}
	if n < 1 || n > len(sess.RecentUIDs) {
		return "", false, nil
	}
	return sess.RecentUIDs[n-1], true, nil
}

// ListSessions returns the sessions of this store, most recent first, and
// the active session id.
func (s *Store) ListSessions() ([]*Session, string, error) {
	si, err := s.loadSessionIndex()
	if err != nil {
		return nil, "", err
	}
	var out []*Session
	for _, id := range si.SessionIDs {
		sess, err := s.loadSession(id)
		if err != nil {
			return nil, "", err
		}
		if sess != nil {
			out = append(out, sess)
		}
	}
	return out, si.ActiveSessionID, nil
}

// migrateLegacySession moves <root>/session.json into the session bucket.
func (s *Store) migrateLegacySession() error {
	legacy := filepath.Join(s.root, "session.json")
	if !exists(legacy) {
		return nil
	}
	var old Session
	if err := s.readJSON(legacy, &old); err != nil {
		return err
	}
	if ValidateSessionID(old.ID) != nil {
		old.ID = uuid.NewString()
	}
	if old.CreatedAt.IsZero() {
		old.CreatedAt = s.now()
	}
	if old.ServedUIDs == nil {
		old.ServedUIDs = []string{}
	}
	if old.RecentUIDs == nil {
		old.RecentUIDs = []string{}
	}

	existing, err := s.loadSession(old.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := s.saveSession(&old); err != nil {
			return err
		}
	}
	si, err := s.loadSessionIndex()
	if err != nil {
		return err
	}
	si.SessionIDs = append(without(si.SessionIDs, old.ID), old.ID)
	if si.ActiveSessionID == "" {
		si.ActiveSessionID = old.ID
	}
	if err := s.saveSessionIndex(si); err != nil {
		return err
	}
	if err := os.Remove(legacy); err != nil {
		return fmt.Errorf("remove legacy session: %w", err)
	}
	s.logger.Info("migrated legacy session", zap.String("session", old.ID))
	return nil
}
