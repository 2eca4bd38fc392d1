package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

// how long the reason a lock ended is remembered for Check
const endedRetention = time.Hour

type ended struct {
	reason error
	at     time.Time
}

// Manager grants at most one live lock per service type
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	clock  clockwork.Clock
	repo   *repository
	active map[synctypes.ServiceType]*Lock
	ended  map[string]ended
}

type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithDB writes lock state through to the locks table
func WithDB(db *sqlx.DB) Option {
	return func(m *Manager) {
		m.repo = &repository{db: db}
	}
}

func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("lock config: %w", err)
	}

	m := &Manager{
		cfg:    cfg,
		clock:  clockwork.NewRealClock(),
		active: make(map[synctypes.ServiceType]*Lock),
		ended:  make(map[string]ended),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.repo != nil {
		if err := m.repo.migrate(); err != nil {
			return nil, err
		}
		if err := m.restore(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// restore picks up locks persisted by a previous process. Live ones are honored.
func (m *Manager) restore() error {
	locks, err := m.repo.list()
	if err != nil {
		return fmt.Errorf("load locks: %w", err)
	}

	now := m.clock.Now()
	for _, l := range locks {
		if l.Live(now) {
			slog.Warn("lock restored", "service", l.ServiceType, "holder", l.HolderID, "expires", l.ExpiresAt)
			m.active[l.ServiceType] = l
			continue
		}
		slog.Info("lock stale", "service", l.ServiceType, "holder", l.HolderID)
		m.repo.remove(l.ServiceType)
	}
	return nil
}

// Acquire takes the lock for st. A live lock held by anyone yields a *BusyError
// wrapping synctypes.ErrBusy. Expired and cancelled locks are reclaimed.
func (m *Manager) Acquire(st synctypes.ServiceType, est Estimate, holder string) (*Lock, error) {
	if !st.Valid() {
		return nil, fmt.Errorf("%w: unknown service type %q", synctypes.ErrInvalidManifest, st)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if current, ok := m.active[st]; ok {
		if current.Live(now) {
			return nil, &BusyError{
				ServiceType: st,
				HolderID:    current.HolderID,
				HeldFor:     now.Sub(current.AcquiredAt),
				ExpiresIn:   current.ExpiresAt.Sub(now),
			}
		}
		m.endLocked(current, now)
	}

	timeout := m.cfg.Timeout(est)
	l := &Lock{
		ID:          uuid.NewString(),
		ServiceType: st,
		HolderID:    holder,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(timeout),
	}
	m.active[st] = l
	if m.repo != nil {
		m.repo.save(l)
	}

	slog.Info("lock acquire", "service", st, "holder", holder, "id", l.ID, "timeout", timeout)
	return l.clone(), nil
}

// Release ends the lock. Releasing a lock that already ended is a no-op.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.ended, id)
	for st, l := range m.active {
		if l.ID != id {
			continue
		}
		delete(m.active, st)
		if m.repo != nil {
			m.repo.remove(st)
		}
		slog.Info("lock release", "service", st, "holder", l.HolderID, "id", id, "held", m.clock.Since(l.AcquiredAt))
		return
	}
}

// Cancel marks the lock cancelled. The holder sees synctypes.ErrCancelled on its next Check
// and others may acquire right away.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.active {
		if l.ID != id {
			continue
		}
		if l.Cancelled {
			return nil
		}
		l.Cancelled = true
		if m.repo != nil {
			m.repo.save(l)
		}
		slog.Warn("lock cancel", "service", l.ServiceType, "holder", l.HolderID, "id", id)
		return nil
	}
	return fmt.Errorf("lock %s: %w", id, synctypes.ErrNotFound)
}

// Check reports whether the lock is still valid for its holder
func (m *Manager) Check(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.active {
		if l.ID != id {
			continue
		}
		switch {
		case l.Cancelled:
			return fmt.Errorf("lock %s: %w", id, synctypes.ErrCancelled)
		case !m.clock.Now().Before(l.ExpiresAt):
			return fmt.Errorf("lock %s: %w", id, synctypes.ErrExpired)
		}
		return nil
	}

	if e, ok := m.ended[id]; ok {
		return fmt.Errorf("lock %s: %w", id, e.reason)
	}
	return fmt.Errorf("lock %s: %w", id, synctypes.ErrNotFound)
}

// IsHeld reports whether st has a live lock
func (m *Manager) IsHeld(st synctypes.ServiceType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.active[st]
	return ok && l.Live(m.clock.Now())
}

// Get returns the live lock for st
func (m *Manager) Get(st synctypes.ServiceType) (*Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.active[st]
	if !ok || !l.Live(m.clock.Now()) {
		return nil, false
	}
	return l.clone(), true
}

// List returns the live locks ordered by service type
func (m *Manager) List() []*Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	locks := make([]*Lock, 0, len(m.active))
	for _, l := range m.active {
		if l.Live(now) {
			locks = append(locks, l.clone())
		}
	}
	sort.Slice(locks, func(i, j int) bool {
		return locks[i].ServiceType < locks[j].ServiceType
	})
	return locks
}

// Run reaps expired and cancelled locks until ctx is done
func (m *Manager) Run(ctx context.Context) error {
	if m.cfg.ReapInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := m.clock.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			m.Reap()
		}
	}
}

// Reap releases every lock that is no longer live
func (m *Manager) Reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	reaped := 0
	for _, l := range m.active {
		if !l.Live(now) {
			m.endLocked(l, now)
			reaped++
		}
	}
	for id, e := range m.ended {
		if now.Sub(e.at) > endedRetention {
			delete(m.ended, id)
		}
	}
	return reaped
}

// endLocked drops a dead lock and remembers why it ended. m.mu must be held.
func (m *Manager) endLocked(l *Lock, now time.Time) {
	reason := synctypes.ErrExpired
	if l.Cancelled {
		reason = synctypes.ErrCancelled
	}
	m.ended[l.ID] = ended{reason: reason, at: now}
	delete(m.active, l.ServiceType)
	if m.repo != nil {
		m.repo.remove(l.ServiceType)
	}
	slog.Info("lock reclaim", "service", l.ServiceType, "holder", l.HolderID, "id", l.ID, "reason", reason)
}

func (l *Lock) clone() *Lock {
	c := *l
	return &c
}
