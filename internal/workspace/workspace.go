package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/wwwsec/yt-tools/internal/logging"
)

// ErrOutputLocked is returned when another run holds the lock on the same
// destination.
var ErrOutputLocked = errors.New("output is locked by another run")

type release struct {
	name string
	fn   func() error
}

// Workspace is a run-scoped scratch directory plus a stack of release
// actions. Release unwinds the stack in reverse order and never fails.
type Workspace struct {
	dir    string
	runID  string
	logger *slog.Logger

	mu       sync.Mutex
	releases []release
	released bool
}

// Create makes <base>/<name>-<uuid>. The directory is removed by Release.
func Create(base, name string, logger *slog.Logger) (*Workspace, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if base == "" {
		base = os.TempDir()
	}
	if name == "" {
		name = "run"
	}
	runID := uuid.NewString()
	dir := filepath.Join(base, name+"-"+runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	w := &Workspace{
		dir:    dir,
		runID:  runID,
		logger: logger.With(logging.FieldComponent, "workspace", logging.FieldRunID, runID),
	}
	w.Defer("remove "+dir, func() error { return os.RemoveAll(dir) })
	return w, nil
}

func (w *Workspace) Dir() string { return w.dir }

func (w *Workspace) RunID() string { return w.runID }

// Path joins elem under the workspace directory.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.dir}, elem...)...)
}

// Defer pushes a release action. Actions added after Release run
// immediately.
func (w *Workspace) Defer(name string, fn func() error) {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		w.run(release{name: name, fn: fn})
		return
	}
	w.releases = append(w.releases, release{name: name, fn: fn})
	w.mu.Unlock()
}

// LockOutput takes an exclusive advisory lock on <output>.lock and keeps it
// until Release.
func (w *Workspace) LockOutput(output string) error {
	lockPath := output + ".lock"
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrOutputLocked, lockPath)
	}
	w.Defer("unlock "+lockPath, lock.Unlock)
	return nil
}

// Release runs every pending action, last in first out. Failures are logged.
func (w *Workspace) Release() {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return
	}
	w.released = true
	pending := w.releases
	w.releases = nil
	w.mu.Unlock()

	for i := len(pending) - 1; i >= 0; i-- {
		w.run(pending[i])
	}
}

func (w *Workspace) run(r release) {
	if err := r.fn(); err != nil {
		w.logger.Warn("release failed", slog.String("action", r.name), logging.Error(err))
		return
	}
	w.logger.Debug("released", slog.String("action", r.name))
}
