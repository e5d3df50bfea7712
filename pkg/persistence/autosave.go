package persistence

import (
	"sync"
	"time"

	"github.com/shenning00/claude-lang-chat/pkg/memory"
)

// autoSaveName is the snapshot name periodic saves write to. Each save
// replaces the previous one.
const autoSaveName = "auto_save"

// stopTimeout bounds how long Stop waits for the scheduler goroutine.
const stopTimeout = 5 * time.Second

// AutoSaver periodically snapshots the session store in the background.
// Foreground mutation continues while it runs: Manager.Snapshot guarantees
// each save observes a consistent store state.
type AutoSaver struct {
	manager  *memory.Manager
	store    *Persistence
	interval time.Duration

	mu       sync.Mutex
	lastSave time.Time
	started  bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewAutoSaver creates a scheduler saving through store every interval.
// Non-positive intervals are clamped to a one-second floor so Start never
// hands time.NewTicker an invalid duration.
func NewAutoSaver(manager *memory.Manager, store *Persistence, interval time.Duration) *AutoSaver {
	if interval <= 0 {
		interval = time.Second
	}
	return &AutoSaver{
		manager:  manager,
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background loop. Calling Start twice is a no-op.
func (a *AutoSaver) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true

	go a.run()
	a.store.logger.Infof("Auto-save scheduler started (interval %s)", a.interval)
}

func (a *AutoSaver) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			// No new save starts after stop is requested.
			return
		case <-ticker.C:
			a.TrySave()
		}
	}
}

// TrySave performs one autosave if the conditions hold: the interval has
// elapsed since the last successful save, and at least one session has
// messages. Save failures are logged; the scheduler survives them.
func (a *AutoSaver) TrySave() bool {
	a.mu.Lock()
	if time.Since(a.lastSave) < a.interval {
		a.mu.Unlock()
		return false
	}
	a.mu.Unlock()

	if !a.manager.HasMessages() {
		return false
	}

	if _, err := a.store.SaveSnapshot(a.manager.Snapshot(), autoSaveName); err != nil {
		a.store.logger.Errorf("Auto-save failed: %v", err)
		return false
	}

	a.mu.Lock()
	a.lastSave = time.Now()
	a.mu.Unlock()

	a.store.logger.Debugf("Auto-save completed successfully")
	return true
}

// Stop signals the scheduler and waits for it to finish, bounded by a short
// timeout so shutdown never hangs. Safe to call repeatedly; it preempts the
// next wait rather than waiting out the full interval.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.stopOnce.Do(func() { close(a.stop) })
	select {
	case <-a.done:
	case <-time.After(stopTimeout):
		a.store.logger.Warnf("Auto-save scheduler did not stop within %s", stopTimeout)
	}
}

// Shutdown writes a final snapshot when the store has content, stops the
// scheduler, and prunes old backups. Mirrors the foreground shutdown path
// of the chat client.
func (a *AutoSaver) Shutdown() {
	a.store.logger.Infof("Shutting down persistence system")

	if a.manager.SessionCount() > 0 {
		if _, err := a.store.SaveSnapshot(a.manager.Snapshot(), "final_backup"); err != nil {
			a.store.logger.Warnf("Final backup failed: %v", err)
		}
	}

	a.Stop()
	a.store.CleanupOldBackups()
}
