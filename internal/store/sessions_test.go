package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestActivateSessionPriority(t *testing.T) {
	s := testStore(t)

	fresh, err := s.ActivateSession("", "")
	if err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	if fresh.ID == "" {
		t.Fatal("fresh session has no id")
	}

	again, err := s.ActivateSession("", "")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != fresh.ID {
		t.Errorf("reactivate = %s, want current active %s", again.ID, fresh.ID)
	}

	override, err := s.ActivateSession("", "from-env")
	if err != nil {
		t.Fatal(err)
	}
	if override.ID != "from-env" {
		t.Errorf("override = %s, want from-env", override.ID)
	}

	explicit, err := s.ActivateSession("explicit", "from-env")
	if err != nil {
		t.Fatal(err)
	}
	if explicit.ID != "explicit" {
		t.Errorf("explicit = %s, want explicit", explicit.ID)
	}

	sessions, active, err := s.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if active != "explicit" {
		t.Errorf("active = %s, want explicit", active)
	}
	var ids []string
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	if diff := cmp.Diff([]string{"explicit", "from-env", fresh.ID}, ids); diff != "" {
		t.Errorf("session order (-want +got):\n%s", diff)
	}

	if _, err := s.ActivateSession(fresh.ID, ""); err != nil {
		t.Fatal(err)
	}
	_, active, _ = s.ListSessions()
	if active != fresh.ID {
		t.Errorf("active = %s, want %s after MRU reinsertion", active, fresh.ID)
	}
}

func TestActivateKeepsExistingState(t *testing.T) {
	s := testStore(t)
	sess, _ := s.ActivateSession("s1", "")
	if _, err := s.RecordServed(sess, []string{"a"}); err != nil {
		t.Fatal(err)
	}
	again, err := s.ActivateSession("s1", "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a"}, again.ServedUIDs); diff != "" {
		t.Errorf("served_uids (-want +got):\n%s", diff)
	}
}

func TestRecordServedDeduplicates(t *testing.T) {
	s := testStore(t)
	sess, _ := s.ActivateSession("s1", "")

	added, err := s.RecordServed(sess, []string{"a", "b", "a"})
	if err != nil {
		t.Fatalf("RecordServed: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, added); diff != "" {
		t.Errorf("first added (-want +got):\n%s", diff)
	}
	added, err = s.RecordServed(sess, []string{"b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"c"}, added); diff != "" {
		t.Errorf("second added (-want +got):\n%s", diff)
	}

	loaded, _ := s.LoadActiveSession()
	if diff := cmp.Diff([]string{"a", "b", "c"}, loaded.ServedUIDs); diff != "" {
		t.Errorf("persisted served_uids (-want +got):\n%s", diff)
	}
	if !loaded.Served("b") || loaded.Served("z") {
		t.Error("Served reports wrong membership")
	}
}

func TestRecentBoundedAndResolvable(t *testing.T) {
	s := testStore(t)
	if _, err := s.ActivateSession("s1", ""); err != nil {
		t.Fatal(err)
	}
	var uids []string
	for i := 0; i < MaxRecent+2; i++ {
		uids = append(uids, saveMemory(t, s, fmt.Sprint(i), nil))
	}
	sess, _ := s.LoadActiveSession()
	if len(sess.RecentUIDs) != MaxRecent {
		t.Fatalf("recent_uids = %d, want %d", len(sess.RecentUIDs), MaxRecent)
	}

	uid, ok, err := s.ResolveRecentUID(1)
	if err != nil || !ok || uid != uids[len(uids)-1] {
		t.Errorf("ResolveRecentUID(1) = %s, %v, %v; want newest", uid, ok, err)
	}
	uid, ok, _ = s.ResolveRecentUID(2)
	if !ok || uid != uids[len(uids)-2] {
		t.Errorf("ResolveRecentUID(2) = %s, want second newest", uid)
	}
	if _, ok, _ := s.ResolveRecentUID(MaxRecent + 1); ok {
		t.Error("ResolveRecentUID out of range should report false")
	}
	if _, ok, _ := s.ResolveRecentUID(0); ok {
		t.Error("ResolveRecentUID(0) should report false")
	}
}

func TestResolveRecentWithoutSession(t *testing.T) {
	s := testStore(t)
	saveMemory(t, s, "x", nil)
	if _, ok, err := s.ResolveRecentUID(1); ok || err != nil {
		t.Errorf("ResolveRecentUID = %v, %v; want false, nil", ok, err)
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := testStore(t, WithClock(fixedClock(&now)))
	if _, err := s.ActivateSession("s1", ""); err != nil {
		t.Fatal(err)
	}

	now = now.Add(47 * time.Hour)
	sess, err := s.LoadActiveSession()
	if err != nil || sess == nil {
		t.Fatalf("LoadActiveSession at 47h = %v, %v; want session", sess, err)
	}

	now = now.Add(2 * time.Hour)
	sess, err = s.LoadActiveSession()
	if err != nil {
		t.Fatal(err)
	}
	if sess != nil {
		t.Errorf("LoadActiveSession at 49h = %s, want nil", sess.ID)
	}
	sessions, active, _ := s.ListSessions()
	if active != "" || len(sessions) != 0 {
		t.Errorf("expired session not cleared: active=%q sessions=%d", active, len(sessions))
	}
}

func TestLoadActiveSessionHealsDanglingID(t *testing.T) {
	s := testStore(t)
	sess, _ := s.ActivateSession("s1", "")
	if err := os.Remove(s.sessionPath(sess.ID)); err != nil {
		t.Fatal(err)
	}
	healed, err := s.LoadActiveSession()
	if err != nil {
		t.Fatalf("LoadActiveSession: %v", err)
	}
	if healed == nil || healed.ID != "s1" {
		t.Fatalf("healed = %v, want s1", healed)
	}
	if len(healed.ServedUIDs) != 0 {
		t.Errorf("healed served_uids = %v, want empty", healed.ServedUIDs)
	}
}

func TestClearAndResetSession(t *testing.T) {
	s := testStore(t)
	sess, _ := s.ActivateSession("s1", "")
	s.RecordServed(sess, []string{"a"})
	saveMemory(t, s, "x", nil)

	reset, err := s.ResetSession("")
	if err != nil || reset == nil {
		t.Fatalf("ResetSession = %v, %v", reset, err)
	}
	loaded, _ := s.LoadActiveSession()
	if loaded.ID != "s1" || len(loaded.ServedUIDs) != 0 || len(loaded.RecentUIDs) != 0 {
		t.Errorf("after reset = %+v, want s1 with empty lists", loaded)
	}

	torn, err := s.ClearSession()
	if err != nil || torn != "s1" {
		t.Fatalf("ClearSession = %q, %v; want s1", torn, err)
	}
	if loaded, _ := s.LoadActiveSession(); loaded != nil {
		t.Errorf("session still active after tear: %s", loaded.ID)
	}
	torn, err = s.ClearSession()
	if err != nil || torn != "" {
		t.Errorf("second ClearSession = %q, %v; want empty", torn, err)
	}
	if reset, err := s.ResetSession("nope"); reset != nil || err != nil {
		t.Errorf("ResetSession(nope) = %v, %v; want nil", reset, err)
	}
}

func TestSessionsAreScopedByStorePath(t *testing.T) {
	state := t.TempDir()
	a, err := Open(filepath.Join(t.TempDir(), "a"), WithStateRoot(state))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(filepath.Join(t.TempDir(), "b"), WithStateRoot(state))
	if err != nil {
		t.Fatal(err)
	}
	if a.SessionDir() == b.SessionDir() {
		t.Fatal("two stores share a session bucket")
	}
	if _, err := a.ActivateSession("s1", ""); err != nil {
		t.Fatal(err)
	}
	if sess, _ := b.LoadActiveSession(); sess != nil {
		t.Errorf("store b sees store a's session %s", sess.ID)
	}
}

func TestMigrateLegacySession(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".membank")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	legacy := `{"session_id":"old","created_at":"` + time.Now().UTC().Format(time.RFC3339) + `","served_uids":["a","b"],"recent_uids":["b"]}`
	if err := os.WriteFile(filepath.Join(root, "session.json"), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(root, WithStateRoot(t.TempDir()))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "session.json")); !os.IsNotExist(err) {
		t.Error("legacy session.json still present")
	}
	sess, err := s.LoadActiveSession()
	if err != nil || sess == nil {
		t.Fatalf("LoadActiveSession = %v, %v", sess, err)
	}
	if sess.ID != "old" {
		t.Errorf("ID = %s, want old", sess.ID)
	}
	if diff := cmp.Diff([]string{"a", "b"}, sess.ServedUIDs); diff != "" {
		t.Errorf("served_uids (-want +got):\n%s", diff)
	}
}

func TestSessionIDsStayInsideBucket(t *testing.T) {
	state := t.TempDir()
	s, err := Open(filepath.Join(t.TempDir(), ".membank"), WithStateRoot(state))
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"../../../escaped", "a/b", `a\b`, "..", "x y", "ok..no"} {
		if _, err := s.ActivateSession(id, ""); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ActivateSession(%q) err = %v, want ErrInvalidArgument", id, err)
		}
		if _, err := s.ActivateSession("", id); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("ActivateSession override %q err = %v, want ErrInvalidArgument", id, err)
		}
	}
	if _, err := s.ResetSession("../x"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ResetSession(../x) err = %v, want ErrInvalidArgument", err)
	}
	matches, _ := filepath.Glob(filepath.Join(state, "*.json"))
	matches2, _ := filepath.Glob(filepath.Join(filepath.Dir(state), "*.json"))
	if len(matches)+len(matches2) != 0 {
		t.Errorf("session files written outside the bucket: %v %v", matches, matches2)
	}

	for _, id := range []string{"agent-1", "f47ac10b-58cc-4372-a567-0e02b2c3d479", "run_2.b"} {
		if _, err := s.ActivateSession(id, ""); err != nil {
			t.Errorf("ActivateSession(%q): %v", id, err)
		}
	}
}

func TestSymlinkedRootSharesSessionBucket(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.MkdirAll(target, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink: %v", err)
	}
	state := t.TempDir()
	a, err := Open(filepath.Join(target, ".membank"), WithStateRoot(state))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(filepath.Join(link, ".membank"), WithStateRoot(state))
	if err != nil {
		t.Fatal(err)
	}
	if a.SessionDir() != b.SessionDir() {
		t.Errorf("SessionDir via symlink = %s, want %s", b.SessionDir(), a.SessionDir())
	}
	if a.Root() != b.Root() {
		t.Errorf("Root via symlink = %s, want %s", b.Root(), a.Root())
	}
}
