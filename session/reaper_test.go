package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Sweep Tests --------------------

func backdatedSession(t *testing.T, store *InMemoryStore, id string, age time.Duration) {
	t.Helper()
	sess := core.NewSession(id, nil)
	sess.LastActivity = time.Now().Add(-age)
	require.NoError(t, store.Create(sess))
}

func TestReaper_SweepRetiresExpiredOnly(t *testing.T) {
	store := NewInMemoryStore()
	backdatedSession(t, store, "stale", time.Hour)
	backdatedSession(t, store, "active", time.Minute)

	var mu sync.Mutex
	var retired []string
	teardown := func(ctx context.Context, id string) error {
		mu.Lock()
		retired = append(retired, id)
		mu.Unlock()
		store.Remove(id)
		return nil
	}

	reaper := NewReaper(store, teardown, func(o *ReaperOptions) {
		o.Timeout = 30 * time.Minute
	})

	assert.Equal(t, 1, reaper.Sweep())
	assert.Equal(t, []string{"stale"}, retired)
	assert.Equal(t, 1, store.Len())

	_, err := store.Get("active")
	assert.NoError(t, err)
}

func TestReaper_SweepComputesReferenceTimeOnce(t *testing.T) {
	store := NewInMemoryStore()
	backdatedSession(t, store, "stale", time.Hour)

	frozen := time.Now()
	reaper := NewReaper(store, func(ctx context.Context, id string) error {
		store.Remove(id)
		return nil
	}, func(o *ReaperOptions) {
		o.Timeout = 30 * time.Minute
		o.Now = func() time.Time { return frozen }
	})

	assert.Equal(t, 1, reaper.Sweep())
	// A second sweep at the same frozen instant finds nothing left.
	assert.Equal(t, 0, reaper.Sweep())
}

func TestReaper_TeardownErrorDoesNotAbortSweep(t *testing.T) {
	store := NewInMemoryStore()
	backdatedSession(t, store, "one", time.Hour)
	backdatedSession(t, store, "two", time.Hour)

	var mu sync.Mutex
	attempted := make(map[string]bool)
	teardown := func(ctx context.Context, id string) error {
		mu.Lock()
		attempted[id] = true
		mu.Unlock()
		store.Remove(id)
		if id == "one" {
			return errors.New("close failed")
		}
		return nil
	}

	reaper := NewReaper(store, teardown, func(o *ReaperOptions) {
		o.Timeout = 30 * time.Minute
	})

	assert.Equal(t, 2, reaper.Sweep())
	assert.True(t, attempted["one"])
	assert.True(t, attempted["two"])
	assert.Equal(t, 0, store.Len())
}

// -------------------- Lifecycle Tests --------------------

func TestReaper_StartAndStop(t *testing.T) {
	store := NewInMemoryStore()
	backdatedSession(t, store, "stale", time.Hour)

	reaper := NewReaper(store, func(ctx context.Context, id string) error {
		store.Remove(id)
		return nil
	}, func(o *ReaperOptions) {
		o.Interval = 5 * time.Millisecond
		o.Timeout = 30 * time.Minute
	})

	reaper.Start()
	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)

	reaper.Stop()
	reaper.Stop()
}

func TestReaper_StopWithoutStart(t *testing.T) {
	reaper := NewReaper(NewInMemoryStore(), func(ctx context.Context, id string) error { return nil })
	assert.NotPanics(t, func() { reaper.Stop() })
}

func TestReaper_Defaults(t *testing.T) {
	reaper := NewReaper(NewInMemoryStore(), func(ctx context.Context, id string) error { return nil })
	assert.Equal(t, 30*time.Minute, reaper.Timeout())
	assert.Equal(t, 5*time.Minute, reaper.interval)
}
