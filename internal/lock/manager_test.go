package lock

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/InsereNomen/AlderSync/internal/db"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 7, 9, 0, 0, 0, time.UTC))
	m, err := NewManager(DefaultConfig(), append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return m, clock
}

func TestConfig_Timeout(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name string
		est  Estimate
		want time.Duration
	}{
		{name: "empty uses minimum", est: Estimate{}, want: 300 * time.Second},
		{name: "small uses minimum", est: Estimate{SizeMB: 10, FileCount: 5}, want: 300 * time.Second},
		{name: "large transfer", est: Estimate{SizeMB: 500, FileCount: 0}, want: 500 * time.Second},
		{name: "many files", est: Estimate{SizeMB: 100, FileCount: 200}, want: 500 * time.Second},
		{name: "huge size is capped", est: Estimate{SizeMB: 1e13}, want: MaxTimeout},
		{name: "huge file count is capped", est: Estimate{FileCount: math.MaxInt}, want: MaxTimeout},
		{name: "negative size ignored", est: Estimate{SizeMB: -1e13, FileCount: 200}, want: 400 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.Timeout(tt.est))
		})
	}

	faster := cfg
	faster.TransferRateMBps = 10
	assert.Equal(t, 400*time.Second, faster.Timeout(Estimate{SizeMB: 4000}))
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.TransferRateMBps = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MinTimeout = 0
	assert.Error(t, bad.Validate())

	_, err := NewManager(bad)
	assert.Error(t, err)
}

func TestEstimateFromBytes(t *testing.T) {
	est := EstimateFromBytes(3*1024*1024, 4)
	assert.InDelta(t, 3.0, est.SizeMB, 0.0001)
	assert.Equal(t, 4, est.FileCount)
}

func TestManager_BusyUntilExpiry(t *testing.T) {
	m, clock := newTestManager(t)

	first, err := m.Acquire(synctypes.Contemporary, Estimate{}, "alice")
	require.NoError(t, err)
	assert.True(t, m.IsHeld(synctypes.Contemporary))
	assert.Equal(t, first.AcquiredAt.Add(300*time.Second), first.ExpiresAt)

	clock.Advance(10 * time.Second)
	_, err = m.Acquire(synctypes.Contemporary, Estimate{}, "bob")
	require.ErrorIs(t, err, synctypes.ErrBusy)

	var busy *BusyError
	require.True(t, errors.As(err, &busy))
	assert.Equal(t, "alice", busy.HolderID)
	assert.Equal(t, 10*time.Second, busy.HeldFor)
	assert.Contains(t, err.Error(), "alice")

	clock.Advance(290 * time.Second)
	assert.False(t, m.IsHeld(synctypes.Contemporary))

	second, err := m.Acquire(synctypes.Contemporary, Estimate{}, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	assert.ErrorIs(t, m.Check(first.ID), synctypes.ErrExpired)
	assert.NoError(t, m.Check(second.ID))
}

func TestManager_MutualExclusion(t *testing.T) {
	m, _ := newTestManager(t)

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	busy := 0

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.Acquire(synctypes.Traditional, Estimate{SizeMB: 1, FileCount: 1}, "worker")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				granted++
			} else if errors.Is(err, synctypes.ErrBusy) {
				busy++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, callers-1, busy)
}

func TestManager_ServiceTypesAreIndependent(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Acquire(synctypes.Contemporary, Estimate{}, "alice")
	require.NoError(t, err)
	_, err = m.Acquire(synctypes.Traditional, Estimate{}, "bob")
	require.NoError(t, err)

	locks := m.List()
	require.Len(t, locks, 2)
	assert.Equal(t, synctypes.Contemporary, locks[0].ServiceType)
	assert.Equal(t, synctypes.Traditional, locks[1].ServiceType)
}

func TestManager_Release(t *testing.T) {
	m, _ := newTestManager(t)

	l, err := m.Acquire(synctypes.Contemporary, Estimate{}, "alice")
	require.NoError(t, err)

	m.Release(l.ID)
	assert.False(t, m.IsHeld(synctypes.Contemporary))
	assert.ErrorIs(t, m.Check(l.ID), synctypes.ErrNotFound)

	// releasing twice is harmless
	m.Release(l.ID)

	_, err = m.Acquire(synctypes.Contemporary, Estimate{}, "bob")
	require.NoError(t, err)
}

func TestManager_Cancel(t *testing.T) {
	m, _ := newTestManager(t)

	l, err := m.Acquire(synctypes.Contemporary, Estimate{}, "alice")
	require.NoError(t, err)

	require.NoError(t, m.Cancel(l.ID))
	require.NoError(t, m.Cancel(l.ID))
	assert.ErrorIs(t, m.Check(l.ID), synctypes.ErrCancelled)
	assert.False(t, m.IsHeld(synctypes.Contemporary))

	_, ok := m.Get(synctypes.Contemporary)
	assert.False(t, ok)

	next, err := m.Acquire(synctypes.Contemporary, Estimate{}, "bob")
	require.NoError(t, err)
	assert.ErrorIs(t, m.Check(l.ID), synctypes.ErrCancelled, "reason survives reclaim")

	got, ok := m.Get(synctypes.Contemporary)
	require.True(t, ok)
	assert.Equal(t, next.ID, got.ID)

	assert.ErrorIs(t, m.Cancel("nope"), synctypes.ErrNotFound)
}

func TestManager_InvalidServiceType(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Acquire("Jazz", Estimate{}, "alice")
	assert.ErrorIs(t, err, synctypes.ErrInvalidManifest)
}

func TestManager_Reap(t *testing.T) {
	m, clock := newTestManager(t)

	l, err := m.Acquire(synctypes.Contemporary, Estimate{}, "alice")
	require.NoError(t, err)
	_, err = m.Acquire(synctypes.Traditional, Estimate{SizeMB: 1000}, "bob")
	require.NoError(t, err)

	clock.Advance(301 * time.Second)
	assert.Equal(t, 1, m.Reap())
	assert.ErrorIs(t, m.Check(l.ID), synctypes.ErrExpired)
	assert.True(t, m.IsHeld(synctypes.Traditional))

	clock.Advance(2 * time.Hour)
	m.Reap()
	assert.ErrorIs(t, m.Check(l.ID), synctypes.ErrNotFound, "ended reasons are forgotten eventually")
}

func TestManager_RunStopsWithContext(t *testing.T) {
	m, _ := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestManager_PersistsLocks(t *testing.T) {
	database, err := db.NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	m, clock := newTestManager(t, WithDB(database))
	l, err := m.Acquire(synctypes.Contemporary, Estimate{}, "alice")
	require.NoError(t, err)

	var count int
	require.NoError(t, database.Get(&count, "SELECT COUNT(*) FROM locks"))
	assert.Equal(t, 1, count)

	// a restarted manager keeps honoring the live lock
	restarted, err := NewManager(DefaultConfig(), WithClock(clock), WithDB(database))
	require.NoError(t, err)
	assert.True(t, restarted.IsHeld(synctypes.Contemporary))
	_, err = restarted.Acquire(synctypes.Contemporary, Estimate{}, "bob")
	assert.ErrorIs(t, err, synctypes.ErrBusy)
	assert.NoError(t, restarted.Check(l.ID))

	// once it has expired a restart clears it
	clock.Advance(time.Hour)
	again, err := NewManager(DefaultConfig(), WithClock(clock), WithDB(database))
	require.NoError(t, err)
	assert.False(t, again.IsHeld(synctypes.Contemporary))
	require.NoError(t, database.Get(&count, "SELECT COUNT(*) FROM locks"))
	assert.Equal(t, 0, count)

	m2, err := again.Acquire(synctypes.Contemporary, Estimate{}, "bob")
	require.NoError(t, err)
	again.Release(m2.ID)
	require.NoError(t, database.Get(&count, "SELECT COUNT(*) FROM locks"))
	assert.Equal(t, 0, count)
}
