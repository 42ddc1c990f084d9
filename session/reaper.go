package session

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// TeardownFunc disposes of one expired session. Implementations remove the
// session from its store and close its tool connections.
type TeardownFunc func(ctx context.Context, sessionID string) error

// ReaperOptions configures the background sweep.
type ReaperOptions struct {
	// Interval between sweeps. Defaults to five minutes.
	Interval time.Duration
	// Timeout after which an idle session expires. Defaults to thirty
	// minutes.
	Timeout time.Duration
	// Logger receives sweep diagnostics. Defaults to a no-op logger.
	Logger logging.Logger
	// Now supplies the current time, overridable in tests.
	Now func() time.Time
}

// Reaper periodically retires sessions that have been idle longer than the
// configured timeout. Teardown failures are logged and never interrupt a
// sweep; the remaining expired sessions are still processed.
type Reaper struct {
	store    core.SessionStore
	teardown TeardownFunc
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger
	now      func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

// NewReaper constructs a reaper over the given store. The teardown callback
// is invoked once per expired session.
func NewReaper(store core.SessionStore, teardown TeardownFunc, optFns ...func(o *ReaperOptions)) *Reaper {
	opts := ReaperOptions{
		Interval: 5 * time.Minute,
		Timeout:  30 * time.Minute,
		Logger:   logging.NoOpLogger{},
		Now:      time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Reaper{
		store:    store,
		teardown: teardown,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		now:      opts.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Timeout returns the configured idle timeout.
func (r *Reaper) Timeout() time.Duration { return r.timeout }

// Start launches the background sweep loop. It returns immediately and is
// idempotent; use Stop to halt the loop.
func (r *Reaper) Start() {
	r.startOnce.Do(func() {
		r.started = true
		go func() {
			defer close(r.done)
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			for {
				select {
				case <-r.stop:
					return
				case <-ticker.C:
					r.Sweep()
				}
			}
		}()
	})
}

// Stop halts the sweep loop and waits for it to exit. Calling Stop more than
// once, or without a prior Start, is safe.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
	if r.started {
		<-r.done
	}
}

// Sweep runs a single pass over the store, tearing down every session whose
// last activity is older than the timeout. The reference time is computed
// once so sessions touched mid-sweep are judged consistently. It returns the
// number of sessions retired.
func (r *Reaper) Sweep() int {
	now := r.now()
	expired := r.store.ListExpired(now, r.timeout)
	for _, id := range expired {
		r.logger.Info("reaper.session.expired", "session_id", id, "timeout", r.timeout.String())
		if err := r.teardown(context.Background(), id); err != nil {
			r.logger.Error("reaper.teardown.failed", "session_id", id, "error", err.Error())
		}
	}
	if len(expired) > 0 {
		r.logger.Info("reaper.sweep.completed", "expired", len(expired), "remaining", r.store.Len())
	}
	return len(expired)
}
