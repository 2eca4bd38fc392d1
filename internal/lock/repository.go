package lock

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/InsereNomen/AlderSync/internal/db"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS locks (
		service_type TEXT PRIMARY KEY,
		lock_id TEXT NOT NULL,
		holder_id TEXT NOT NULL,
		acquired_at TEXT NOT NULL, -- RFC3339Nano
		expires_at TEXT NOT NULL, -- RFC3339Nano
		cancelled INTEGER NOT NULL DEFAULT 0
	)`,
}

type dbLock struct {
	ServiceType string `db:"service_type"`
	LockID      string `db:"lock_id"`
	HolderID    string `db:"holder_id"`
	AcquiredAt  string `db:"acquired_at"`
	ExpiresAt   string `db:"expires_at"`
	Cancelled   bool   `db:"cancelled"`
}

// repository mirrors the in-memory lock table so operators can inspect it
// and a restarted server keeps honoring live locks. Write failures are logged,
// the in-memory state stays authoritative.
type repository struct {
	db *sqlx.DB
}

func (r *repository) migrate() error {
	if err := db.Migrate(r.db, schema...); err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}
	return nil
}

func (r *repository) save(l *Lock) {
	_, err := r.db.NamedExec(`INSERT OR REPLACE INTO locks (service_type, lock_id, holder_id, acquired_at, expires_at, cancelled)
		VALUES (:service_type, :lock_id, :holder_id, :acquired_at, :expires_at, :cancelled)`,
		dbLock{
			ServiceType: string(l.ServiceType),
			LockID:      l.ID,
			HolderID:    l.HolderID,
			AcquiredAt:  l.AcquiredAt.UTC().Format(time.RFC3339Nano),
			ExpiresAt:   l.ExpiresAt.UTC().Format(time.RFC3339Nano),
			Cancelled:   l.Cancelled,
		})
	if err != nil {
		slog.Error("lock persist", "service", l.ServiceType, "error", err)
	}
}

func (r *repository) remove(st synctypes.ServiceType) {
	if _, err := r.db.Exec(`DELETE FROM locks WHERE service_type = ?`, string(st)); err != nil {
		slog.Error("lock persist remove", "service", st, "error", err)
	}
}

func (r *repository) list() ([]*Lock, error) {
	var rows []dbLock
	if err := r.db.Select(&rows, `SELECT service_type, lock_id, holder_id, acquired_at, expires_at, cancelled FROM locks`); err != nil {
		return nil, err
	}

	locks := make([]*Lock, 0, len(rows))
	for _, row := range rows {
		acquired, err := time.Parse(time.RFC3339Nano, row.AcquiredAt)
		if err != nil {
			return nil, fmt.Errorf("parse acquired_at: %w", err)
		}
		expires, err := time.Parse(time.RFC3339Nano, row.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		locks = append(locks, &Lock{
			ID:          row.LockID,
			ServiceType: synctypes.ServiceType(row.ServiceType),
			HolderID:    row.HolderID,
			AcquiredAt:  acquired,
			ExpiresAt:   expires,
			Cancelled:   row.Cancelled,
		})
	}
	return locks, nil
}
