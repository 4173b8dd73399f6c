package store

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lazypower/membank/internal/config"
)

func TestPruneEmptyInboxIsNoop(t *testing.T) {
	s := testStore(t)
	got, err := s.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if got != InboxCluster {
		t.Errorf("Prune = %q, want _inbox", got)
	}
	names, _ := s.clusterNames()
	if diff := cmp.Diff([]string{InboxCluster}, names); diff != "" {
		t.Errorf("clusters (-want +got):\n%s", diff)
	}
}

func TestPruneMovesInboxAndRebuildsIndex(t *testing.T) {
	s := testStore(t)
	a := saveMemory(t, s, "tcp setup", map[string]float64{"tcp": 2, "timeout": 1})
	b := saveMemory(t, s, "tcp method", map[string]float64{"tcp": 1, "timeout": 1, "retry": 0.5})
	task, err := s.SaveNode(New(TypeTask, map[string]float64{"tcp": 1}), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveLink(NewLink(a, b, []string{"tcp"}, 1)); err != nil {
		t.Fatal(err)
	}

	before, _ := s.LoadIndex()
	got, err := s.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if got != "tcp_timeout" {
		t.Errorf("Prune = %q, want tcp_timeout", got)
	}

	inbox, _ := s.readCluster(InboxCluster)
	if len(inbox) != 0 {
		t.Errorf("inbox has %d nodes after prune, want 0", len(inbox))
	}

	after, _ := s.LoadIndex()
	for _, uid := range []string{a, b, task} {
		if after.UIDFile[uid] != "tcp_timeout" {
			t.Errorf("uid_file[%s] = %q, want tcp_timeout", uid, after.UIDFile[uid])
		}
		resolved, reason, _ := s.ResolveUIDWithReason(uid)
		if resolved != uid || reason != ResolvedExact {
			t.Errorf("ResolveUIDWithReason(%s) = %q, %s", uid, resolved, reason)
		}
	}
	sortedCopy := func(m map[string][]string) map[string][]string {
		out := map[string][]string{}
		for k, v := range m {
			c := append([]string(nil), v...)
			sort.Strings(c)
			out[k] = c
		}
		return out
	}
	if diff := cmp.Diff(sortedCopy(before.Types), sortedCopy(after.Types)); diff != "" {
		t.Errorf("types changed across prune (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(sortedCopy(before.Tags), sortedCopy(after.Tags)); diff != "" {
		t.Errorf("tags changed across prune (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff([]string{a}, after.LinksIn[b]); diff != "" {
		t.Errorf("links_in[b] (-want +got):\n%s", diff)
	}

	meta := after.Clusters["tcp_timeout"]
	if meta == nil || meta.Size != 3 {
		t.Fatalf("clusters[tcp_timeout] = %+v, want size 3", meta)
	}
	if diff := cmp.Diff([]string{"tcp", "timeout", "retry"}, meta.TopTags); diff != "" {
		t.Errorf("top_tags (-want +got):\n%s", diff)
	}
	if in := after.Clusters[InboxCluster]; in == nil || in.Size != 0 {
		t.Errorf("clusters[_inbox] = %+v, want size 0", in)
	}

	nodes, err := s.LoadNodes([]string{a, b})
	if err != nil || len(nodes) != 2 {
		t.Fatalf("LoadNodes after prune = %d, %v", len(nodes), err)
	}
}

func TestPruneMergesIntoExistingCluster(t *testing.T) {
	s := testStore(t)
	first := saveMemory(t, s, "one", map[string]float64{"tcp": 1})
	if _, err := s.Prune(); err != nil {
		t.Fatal(err)
	}
	second := saveMemory(t, s, "two", map[string]float64{"tcp": 1})
	got, err := s.Prune()
	if err != nil {
		t.Fatal(err)
	}
	if got != "tcp" {
		t.Errorf("Prune = %q, want tcp", got)
	}
	c, _ := s.readCluster("tcp")
	if len(c) != 2 {
		t.Errorf("cluster tcp has %d nodes, want 2", len(c))
	}
	for _, uid := range []string{first, second} {
		if _, ok := c[uid]; !ok {
			t.Errorf("cluster tcp missing %s", uid)
		}
	}
}

func TestPruneRollsOverFullCluster(t *testing.T) {
	cfg := config.Default()
	cfg.Prune.MaxClusterSize = 2
	s := testStore(t, WithConfig(cfg))

	saveMemory(t, s, "1", map[string]float64{"tcp": 1})
	saveMemory(t, s, "2", map[string]float64{"tcp": 1})
	if got, _ := s.Prune(); got != "tcp" {
		t.Fatalf("first Prune = %q, want tcp", got)
	}
	saveMemory(t, s, "3", map[string]float64{"tcp": 1})
	got, err := s.Prune()
	if err != nil {
		t.Fatal(err)
	}
	if got != "tcp-2" {
		t.Errorf("second Prune = %q, want tcp-2", got)
	}
	idx, _ := s.LoadIndex()
	if idx.Clusters["tcp"].Size != 2 || idx.Clusters["tcp-2"].Size != 1 {
		t.Errorf("sizes tcp=%d tcp-2=%d, want 2 and 1", idx.Clusters["tcp"].Size, idx.Clusters["tcp-2"].Size)
	}
}

func TestPruneUntaggedInboxStaysPut(t *testing.T) {
	s := testStore(t)
	uid := saveMemory(t, s, "no tags", nil)
	got, err := s.Prune()
	if err != nil {
		t.Fatal(err)
	}
	if got != InboxCluster {
		t.Errorf("Prune = %q, want _inbox", got)
	}
	n, _ := s.LoadNode(uid)
	if n == nil {
		t.Fatal("untagged node lost by prune")
	}
}

func TestPrunePurgesStaleRecent(t *testing.T) {
	s := testStore(t)
	if _, err := s.ActivateSession("s1", ""); err != nil {
		t.Fatal(err)
	}
	uid := saveMemory(t, s, "x", map[string]float64{"tcp": 1})

	sess, _ := s.LoadActiveSession()
	sess.RecentUIDs = append(sess.RecentUIDs, "ghost")
	if err := s.saveSession(sess); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Prune(); err != nil {
		t.Fatal(err)
	}
	sess, _ = s.LoadActiveSession()
	if diff := cmp.Diff([]string{uid}, sess.RecentUIDs); diff != "" {
		t.Errorf("recent_uids (-want +got):\n%s", diff)
	}
}

func TestRebuildIndexRepairsDrift(t *testing.T) {
	s := testStore(t)
	uid := saveMemory(t, s, "x", map[string]float64{"Disk IO": 1})
	if err := s.saveIndex(NewIndex()); err != nil {
		t.Fatal(err)
	}
	idx, err := s.RebuildIndex()
	if err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if idx.UIDFile[uid] != InboxCluster {
		t.Errorf("uid_file[%s] = %q, want _inbox", uid, idx.UIDFile[uid])
	}
	if !strings.EqualFold(idx.Clusters[InboxCluster].TopTags[0], "disk io") {
		t.Errorf("top_tags = %v", idx.Clusters[InboxCluster].TopTags)
	}
}
