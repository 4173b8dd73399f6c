package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lazypower/membank/internal/store"
)

// testEnv points the CLI at a fresh store and state root.
func testEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("MEMBANK_STATE_ROOT", t.TempDir())
	t.Setenv("MEMBANK_SESSION", "")
	path := filepath.Join(t.TempDir(), ".membank")
	t.Setenv("MEMBANK_PATH", path)
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, "", args...)
	if err != nil {
		t.Fatalf("membank %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		raw  string
		want map[string]float64
	}{
		{"", map[string]float64{}},
		{"tcp", map[string]float64{"tcp": 1}},
		{"tcp:2, retry:0.5,", map[string]float64{"tcp": 2, "retry": 0.5}},
		{"lang:go:3", map[string]float64{"lang:go": 3}},
	}
	for _, tt := range tests {
		got, err := parseTags(tt.raw)
		if err != nil {
			t.Fatalf("parseTags(%q): %v", tt.raw, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("parseTags(%q) (-want +got):\n%s", tt.raw, diff)
		}
	}
	for _, raw := range []string{"tcp:high", ":2"} {
		if _, err := parseTags(raw); !errors.Is(err, store.ErrInvalidArgument) {
			t.Errorf("parseTags(%q) err = %v, want ErrInvalidArgument", raw, err)
		}
	}
}

func TestNodeAddAndGet(t *testing.T) {
	testEnv(t)
	mustRun(t, "init")
	uid := strings.TrimSpace(mustRun(t, "node", "add", "story",
		"--title", "operator", "--summary", "fewer pages",
		"--criteria", "alerts dedupe", "--criteria", "runbook linked",
		"--status", "in_progress", "--tags", "oncall:2"))

	out := mustRun(t, "node", "get", uid[:8], "--format", "json")
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode node get output: %v\n%s", err, out)
	}
	if got["uid"] != uid || got["role"] != "operator" || got["benefit"] != "fewer pages" || got["status"] != "in_progress" {
		t.Errorf("node get = %v", got)
	}
	if diff := cmp.Diff([]any{"alerts dedupe", "runbook linked"}, got["criteria"]); diff != "" {
		t.Errorf("criteria (-want +got):\n%s", diff)
	}

	if _, err := run(t, "", "node", "add", "widget"); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("add unknown type err = %v, want ErrInvalidArgument", err)
	}
	if out := mustRun(t, "node", "get", "ffffffff"); !strings.Contains(out, "Node not found") {
		t.Errorf("get missing = %q, want a not-found message", out)
	}
}

func TestCommandsNeedInitializedStore(t *testing.T) {
	testEnv(t)
	if _, err := run(t, "", "last"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("last on empty dir err = %v, want ErrNotFound", err)
	}
}

func TestNodeStatusAndRemove(t *testing.T) {
	testEnv(t)
	task := strings.TrimSpace(mustRun(t, "node", "add", "task", "--content", "ship it"))
	mem := strings.TrimSpace(mustRun(t, "node", "add", "memory", "--content", "note"))

	if out := mustRun(t, "node", "status", task, "done"); !strings.Contains(out, "done") {
		t.Errorf("status output = %q", out)
	}
	if _, err := run(t, "", "node", "status", mem, "done"); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("status on memory err = %v, want ErrInvalidArgument", err)
	}

	mustRun(t, "node", "remove", mem)
	out := mustRun(t, "node", "list-all")
	if strings.Contains(out, "note") || !strings.Contains(out, "ship it") {
		t.Errorf("list-all after remove = %q", out)
	}
	if out := mustRun(t, "node", "remove-type", "task"); !strings.Contains(out, "Removed 1 task") {
		t.Errorf("remove-type output = %q", out)
	}
}

func TestRecencyAddressingAndLinks(t *testing.T) {
	testEnv(t)
	mustRun(t, "session", "up")
	first := strings.TrimSpace(mustRun(t, "node", "add", "memory", "--content", "first", "--tags", "tcp"))
	second := strings.TrimSpace(mustRun(t, "node", "add", "memory", "--content", "second", "--tags", "tcp"))

	mustRun(t, "link", "add", "@2", "@1", "--tags", "tcp", "--weight", "0.5")
	out := mustRun(t, "link", "list", first)
	want := first + " -> " + second + " (tcp) w=0.5\n"
	if out != want {
		t.Errorf("link list = %q, want %q", out, want)
	}
	if out := mustRun(t, "link", "weight", "tcp", "0.25"); strings.TrimSpace(out) != "1" {
		t.Errorf("link weight updated %q links, want 1", out)
	}
	if _, err := run(t, "", "link", "add", "@9", "@1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("@9 err = %v, want ErrNotFound", err)
	}
	if _, err := run(t, "", "link", "chain", first); err == nil {
		t.Error("chain with one uid succeeded")
	}
	if out := mustRun(t, "link", "chain", first, second, first); !strings.Contains(out, "Created 2 links") {
		t.Errorf("chain output = %q", out)
	}
}

func TestServedNodesTruncateOnRepeat(t *testing.T) {
	testEnv(t)
	mustRun(t, "session", "up")
	mustRun(t, "node", "add", "memory", "--content", "alpha body", "--tags", "tcp")

	first := mustRun(t, "last")
	if !strings.Contains(first, "alpha body") {
		t.Fatalf("first last = %q, want full node", first)
	}
	second := mustRun(t, "last")
	if strings.Contains(second, "alpha body") || !strings.Contains(second, "(Memory)") {
		t.Errorf("second last = %q, want header only", second)
	}

	mustRun(t, "session", "reset")
	if out := mustRun(t, "focus", "--tags", "tcp"); !strings.Contains(out, "alpha body") {
		t.Errorf("focus after reset = %q, want full node", out)
	}
	if out := mustRun(t, "session", "info"); !strings.Contains(out, "served_count=1") {
		t.Errorf("session info = %q", out)
	}
	mustRun(t, "session", "tear")
	if out := mustRun(t, "session", "info"); !strings.Contains(out, "No active session") {
		t.Errorf("session info after tear = %q", out)
	}
}

func TestForctx(t *testing.T) {
	testEnv(t)
	mustRun(t, "node", "add", "memory", "--content", "retry with backoff", "--tags", "net")
	mustRun(t, "node", "add", "memory", "--content", "unrelated", "--tags", "ui")

	out := mustRun(t, "forctx", "#net [backoff]")
	if !strings.Contains(out, "[3.000]") || strings.Contains(out, "unrelated") {
		t.Errorf("forctx = %q", out)
	}
}

func TestAutoPrune(t *testing.T) {
	path := testEnv(t)
	mustRun(t, "config", "set", "prune.auto_threshold", "2")
	if out := mustRun(t, "config", "get", "prune.auto_threshold"); strings.TrimSpace(out) != "2" {
		t.Fatalf("config get = %q", out)
	}
	mustRun(t, "node", "add", "memory", "--content", "a", "--tags", "tcp")
	uid := strings.TrimSpace(mustRun(t, "node", "add", "memory", "--content", "b", "--tags", "tcp"))

	st, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := st.LoadIndex()
	if err != nil {
		t.Fatal(err)
	}
	if idx.UIDFile[uid] != "tcp" {
		t.Errorf("uid_file[%s] = %q, want tcp after auto prune", uid, idx.UIDFile[uid])
	}
	if _, err := run(t, "", "config", "set", "prune.nope", "1"); err == nil {
		t.Error("config set of unknown key succeeded")
	}
}

func TestRulesAndMood(t *testing.T) {
	testEnv(t)
	if _, err := run(t, "", "rule", "add", "weight += 1"); !errors.Is(err, store.ErrInvalidArgument) {
		t.Errorf("bad rule err = %v, want ErrInvalidArgument", err)
	}
	rule := `if tag("deploy") then weight += 0.5`
	mustRun(t, "rule", "add", rule)
	if out := mustRun(t, "rule", "list"); strings.TrimSpace(out) != rule {
		t.Errorf("rule list = %q", out)
	}
	if out := mustRun(t, "report", "mood", "deploy", "1"); !strings.HasPrefix(out, "deploy=0.55") {
		t.Errorf("report mood = %q, want deploy=0.55", out)
	}
}

func TestHistoryRecordsActivity(t *testing.T) {
	testEnv(t)
	mustRun(t, "node", "add", "memory", "--content", "x")
	mustRun(t, "prune")
	out := mustRun(t, "history")
	if !strings.Contains(out, "node.add") || !strings.Contains(out, "prune") {
		t.Errorf("history = %q", out)
	}
}

func TestHookStartThroughCLI(t *testing.T) {
	testEnv(t)
	mustRun(t, "node", "add", "memory", "--content", "remember me")
	out, err := run(t, `{"session_id":"agent-7"}`, "hook", "start")
	if err != nil {
		t.Fatalf("hook start: %v", err)
	}
	if !strings.Contains(out, "remember me") || !strings.Contains(out, "hookSpecificOutput") {
		t.Errorf("hook start output = %q", out)
	}
	if out := mustRun(t, "session", "info"); !strings.Contains(out, "session_id=agent-7") {
		t.Errorf("session info = %q", out)
	}
}
