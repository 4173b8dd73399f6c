package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lazypower/membank/internal/journal"
	"github.com/lazypower/membank/internal/store"
)

// DefaultPath is the store root used when neither --path nor MEMBANK_PATH is
// given.
const DefaultPath = ".membank"

// app holds the persistent flags shared by every command.
type app struct {
	path      string
	session   string
	federated bool
	verbose   bool

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "membank",
		Short:         "Tag-weighted memory bank for coding agents",
		Long:          "membank stores typed, tag-weighted nodes and links in a directory and ranks them against query tags.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.logger = newLogger(cmd.ErrOrStderr(), a.verbose)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.path, "path", envOr("MEMBANK_PATH", DefaultPath), "store root directory (env MEMBANK_PATH)")
	pf.StringVar(&a.session, "session", "", "session id to activate for this command")
	pf.BoolVar(&a.federated, "federated", false, "read across every bank discovered from the store root")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging on stderr")

	cmd.AddCommand(
		newInitCmd(a),
		newNodeCmd(a),
		newLinkCmd(a),
		newFocusCmd(a),
		newForctxCmd(a),
		newLastCmd(a),
		newPruneCmd(a),
		newSessionCmd(a),
		newRuleCmd(a),
		newReportCmd(a),
		newConfigCmd(a),
		newServeCmd(a),
		newHookCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the membank command tree.
func Execute() error {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core)
}

func (a *app) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

// open returns the store at --path without touching disk.
func (a *app) open() (*store.Store, error) {
	return store.Open(a.path, store.WithLogger(a.log()))
}

// openInit opens the store and creates any missing layout.
func (a *app) openInit() (*store.Store, error) {
	st, err := a.open()
	if err != nil {
		return nil, err
	}
	if err := st.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	return st, nil
}

// openExisting opens the store and fails when it was never initialized.
func (a *app) openExisting() (*store.Store, error) {
	st, err := a.open()
	if err != nil {
		return nil, err
	}
	if !store.IsStoreDir(st.Root()) {
		return nil, fmt.Errorf("%w: no membank at %s (run membank init)", store.ErrNotFound, st.Root())
	}
	return st, nil
}

// activeSession returns the session served-node filtering applies to. An
// explicit --session or MEMBANK_SESSION activates that id; otherwise the
// current active session is used, if any.
func (a *app) activeSession(st *store.Store) (*store.Session, error) {
	override := os.Getenv("MEMBANK_SESSION")
	if a.session == "" && override == "" {
		return st.LoadActiveSession()
	}
	return st.ActivateSession(a.session, override)
}

// resolve turns a uid argument into a stored uid. Tokens of the form @N name
// the N-th most recently saved node of the active session.
func (a *app) resolve(st *store.Store, token string) (string, error) {
	if rest, ok := strings.CutPrefix(token, "@"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			return "", fmt.Errorf("%w: bad recency reference %q", store.ErrInvalidArgument, token)
		}
		uid, found, err := st.ResolveRecentUID(n)
		if err != nil {
			return "", err
		}
		if !found {
			return "", fmt.Errorf("%w: no node at %s in the active session", store.ErrNotFound, token)
		}
		return uid, nil
	}
	return st.ResolveUID(token)
}

// record writes an event to the activity journal when it is enabled. Journal
// failures are logged and never fail the command.
func (a *app) record(st *store.Store, op, uid, detail string) {
	if !st.Config().Journal.Enabled {
		return
	}
	db, err := journal.Open(journal.DefaultPath(st.StateRoot()))
	if err != nil {
		a.log().Warn("open journal", zap.Error(err))
		return
	}
	defer db.Close()
	if err := db.Record(journal.Event{Bank: st.Root(), Op: op, UID: uid, Detail: detail}); err != nil {
		a.log().Warn("record journal event", zap.String("op", op), zap.Error(err))
	}
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
