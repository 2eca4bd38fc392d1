package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/InsereNomen/AlderSync/internal/ignore"
	"github.com/InsereNomen/AlderSync/internal/lock"
	"github.com/InsereNomen/AlderSync/internal/revision"
	"github.com/InsereNomen/AlderSync/internal/server/auth"
	"github.com/InsereNomen/AlderSync/internal/transaction"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

const stagingSweepInterval = time.Hour

type Services struct {
	DB           *sqlx.DB
	Store        *revision.Store
	Locks        *lock.Manager
	Audit        *transaction.Audit
	Staging      *transaction.StagingArea
	Orchestrator *transaction.Orchestrator
	Auth         *auth.AuthService
	Ignore       *ignore.List
	Clock        clockwork.Clock

	stagingMaxAge time.Duration
}

// NewServices builds every service on top of database. A nil clock means the real one.
func NewServices(ctx context.Context, config *Config, database *sqlx.DB, clock clockwork.Clock) (*Services, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	backend, err := revision.NewBackend(ctx, &config.Blob, config.blobDir())
	if err != nil {
		return nil, fmt.Errorf("blob backend: %w", err)
	}

	store, err := revision.NewStore(database, backend,
		revision.WithMaxRevisions(config.Storage.MaxRevisions),
		revision.WithClock(clock),
	)
	if err != nil {
		return nil, err
	}

	locks, err := lock.NewManager(config.Lock, lock.WithDB(database), lock.WithClock(clock))
	if err != nil {
		return nil, err
	}

	audit, err := transaction.NewAudit(database)
	if err != nil {
		return nil, err
	}

	staging, err := transaction.NewStagingArea(config.stagingDir())
	if err != nil {
		return nil, err
	}

	ignoreList, err := ignore.LoadFile(config.ignoreFile())
	if err != nil {
		return nil, err
	}

	orchestrator := transaction.New(store, locks,
		transaction.WithConfig(config.Sync),
		transaction.WithAudit(audit),
		transaction.WithStaging(staging),
		transaction.WithIgnore(ignoreList),
		transaction.WithClock(clock),
	)

	return &Services{
		DB:            database,
		Store:         store,
		Locks:         locks,
		Audit:         audit,
		Staging:       staging,
		Orchestrator:  orchestrator,
		Auth:          auth.NewAuthService(&config.Auth),
		Ignore:        ignoreList,
		Clock:         clock,
		stagingMaxAge: config.Storage.StagingMaxAge,
	}, nil
}

// Start runs the background reapers until ctx is done
func (s *Services) Start(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.Locks.Run(egCtx)
	})

	eg.Go(func() error {
		return s.Orchestrator.Run(egCtx)
	})

	eg.Go(func() error {
		return s.sweepStaging(egCtx)
	})

	return eg.Wait()
}

func (s *Services) sweepStaging(ctx context.Context) error {
	if s.stagingMaxAge <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := s.Clock.NewTicker(stagingSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if n := s.Staging.Sweep(s.stagingMaxAge); n > 0 {
				slog.Info("staging swept", "removed", n)
			}
		}
	}
}

func (s *Services) Shutdown(ctx context.Context) error {
	for _, info := range s.Orchestrator.ActiveTransactions() {
		if info.State != transaction.StatePlanning {
			continue
		}
		if _, err := s.Orchestrator.RollbackTransaction(ctx, info.ID); err != nil {
			slog.Warn("rollback on shutdown", "tx", info.ID, "error", err)
		}
	}

	if err := s.DB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}
