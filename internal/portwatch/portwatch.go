// Package portwatch monitors the set of enumerated serial ports and
// reports newly present ones. The acquisition service uses it to
// survive unplug/replug: when its port disappears it starts a watcher,
// and the watcher's callback re-attempts the open as soon as a port
// shows up in the enumeration.
package portwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// DefaultInterval is the enumeration poll period.
const DefaultInterval = time.Second

// Config configures a port watcher.
type Config struct {
	// List enumerates the currently present serial ports. Defaults to
	// go.bug.st/serial's GetPortsList. Must be safe for concurrent use.
	List func() ([]string, error)

	// Interval is the poll period (default: 1s).
	Interval time.Duration

	// OnNewPort is called for each port present in a poll that was
	// absent in the previous one. Called from the watcher goroutine;
	// must not block indefinitely.
	OnNewPort func(name string)

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Watcher polls the serial port enumeration and invokes OnNewPort for
// ports that newly appear. A port that was present at the first poll is
// not "new"; only plug-in events after the watcher starts fire the
// callback.
type Watcher struct {
	config  Config
	running atomic.Bool

	// lifeMu orders Start and Stop; cancel and done are only touched
	// under it.
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates a watcher. Zero-value config fields are replaced with
// defaults; OnNewPort must be set.
func New(cfg Config) *Watcher {
	if cfg.OnNewPort == nil {
		panic("portwatch: Config.OnNewPort must not be nil")
	}
	if cfg.List == nil {
		cfg.List = serial.GetPortsList
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{config: cfg}
}

// Running reports whether the watcher goroutine is active.
func (w *Watcher) Running() bool {
	return w.running.Load()
}

// Start launches the watch goroutine. The initial enumeration seeds the
// known set so already-present ports do not fire the callback. Calling
// Start on a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) {
	w.lifeMu.Lock()
	defer w.lifeMu.Unlock()
	if !w.running.CompareAndSwap(false, true) {
		return
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	w.mu.Lock()
	w.seen = w.snapshot()
	w.mu.Unlock()

	w.config.Logger.Debug("port watcher started",
		"interval", w.config.Interval.String(),
		"known_ports", len(w.seen),
	)
	go w.run(watchCtx)
}

// Stop cancels the watcher and waits for its goroutine to exit. Safe to
// call on a stopped watcher.
func (w *Watcher) Stop() {
	w.lifeMu.Lock()
	cancel, done := w.cancel, w.done
	w.lifeMu.Unlock()
	if cancel == nil || !w.running.Load() {
		return
	}
	cancel()
	<-done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.running.Store(false)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll diffs the current enumeration against the previous one and fires
// OnNewPort for additions. Removed ports are dropped from the known set
// so a replug of the same device counts as new.
func (w *Watcher) poll() {
	current := w.snapshot()

	w.mu.Lock()
	previous := w.seen
	w.seen = current
	w.mu.Unlock()

	for name := range current {
		if _, ok := previous[name]; !ok {
			w.config.Logger.Info("serial port appeared", "port", name)
			w.config.OnNewPort(name)
		}
	}
}

func (w *Watcher) snapshot() map[string]struct{} {
	names, err := w.config.List()
	if err != nil {
		w.config.Logger.Debug("port enumeration failed", "error", err)
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
