package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/InsereNomen/AlderSync/internal/db"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/jmoiron/sqlx"
)

// OperationStatus is the audit view of a transaction outcome
type OperationStatus string

const (
	OperationActive           OperationStatus = "active"
	OperationCommitted        OperationStatus = "committed"
	OperationPartial          OperationStatus = "partial"
	OperationRolledBack       OperationStatus = "rolled_back"
	OperationCancelledByAdmin OperationStatus = "cancelled_by_admin"
)

var auditSchema = []string{
	`CREATE TABLE IF NOT EXISTS operations (
		id TEXT PRIMARY KEY,
		service_type TEXT NOT NULL,
		owner TEXT NOT NULL,
		mode TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		started_at TEXT NOT NULL, -- RFC3339
		finished_at TEXT NOT NULL DEFAULT '',
		files_pulled INTEGER NOT NULL DEFAULT 0,
		files_pushed INTEGER NOT NULL DEFAULT 0,
		files_deleted INTEGER NOT NULL DEFAULT 0,
		conflicts INTEGER NOT NULL DEFAULT 0,
		bytes_transferred INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_operations_started ON operations(started_at)`,
	`CREATE TABLE IF NOT EXISTS changelists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id TEXT NOT NULL,
		service_type TEXT NOT NULL,
		owner TEXT NOT NULL,
		mode TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL -- RFC3339
	)`,
	`CREATE INDEX IF NOT EXISTS idx_changelists_transaction ON changelists(transaction_id)`,
}

// Operation is one audited transaction
type Operation struct {
	ID               string          `db:"id" json:"id"`
	ServiceType      string          `db:"service_type" json:"service_type"`
	Owner            string          `db:"owner" json:"owner"`
	Mode             string          `db:"mode" json:"mode"`
	Description      string          `db:"description" json:"description,omitempty"`
	Status           OperationStatus `db:"status" json:"status"`
	StartedAt        string          `db:"started_at" json:"started_at"`
	FinishedAt       string          `db:"finished_at" json:"finished_at,omitempty"`
	FilesPulled      int             `db:"files_pulled" json:"files_pulled"`
	FilesPushed      int             `db:"files_pushed" json:"files_pushed"`
	FilesDeleted     int             `db:"files_deleted" json:"files_deleted"`
	Conflicts        int             `db:"conflicts" json:"conflicts"`
	BytesTransferred int64           `db:"bytes_transferred" json:"bytes_transferred"`
	Error            string          `db:"error" json:"error,omitempty"`
}

// Changelist groups the revisions one transaction pushed
type Changelist struct {
	ID            int64  `db:"id" json:"id"`
	TransactionID string `db:"transaction_id" json:"transaction_id"`
	ServiceType   string `db:"service_type" json:"service_type"`
	Owner         string `db:"owner" json:"owner"`
	Mode          string `db:"mode" json:"mode"`
	Description   string `db:"description" json:"description,omitempty"`
	CreatedAt     string `db:"created_at" json:"created_at"`
}

// Audit records operations and changelists
type Audit struct {
	db *sqlx.DB
}

func NewAudit(database *sqlx.DB) (*Audit, error) {
	if err := db.Migrate(database, auditSchema...); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return &Audit{db: database}, nil
}

func (a *Audit) StartOperation(ctx context.Context, tx *Transaction) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO operations (id, service_type, owner, mode, description, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, string(tx.ServiceType), tx.Owner, string(tx.Mode), tx.Description, string(OperationActive), tx.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (a *Audit) FinishOperation(ctx context.Context, res *Result) error {
	_, err := a.db.ExecContext(ctx,
		`UPDATE operations SET status = ?, finished_at = ?, files_pulled = ?, files_pushed = ?, files_deleted = ?,
			conflicts = ?, bytes_transferred = ?, error = ? WHERE id = ?`,
		string(operationStatus(res)), res.FinishedAt.UTC().Format(time.RFC3339),
		res.Downloaded, res.Uploaded, res.Deleted, res.Conflicted, res.BytesTransferred, res.Error,
		res.TransactionID)
	return err
}

func (a *Audit) CreateChangelist(ctx context.Context, tx *Transaction, at time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx,
		`INSERT INTO changelists (transaction_id, service_type, owner, mode, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		tx.ID, string(tx.ServiceType), tx.Owner, string(tx.Mode), tx.Description, at.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (a *Audit) GetOperation(ctx context.Context, id string) (*Operation, error) {
	var op Operation
	if err := a.db.GetContext(ctx, &op, `SELECT * FROM operations WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("operation %s: %w", id, err)
	}
	return &op, nil
}

// ListOperations returns the most recent operations first
func (a *Audit) ListOperations(ctx context.Context, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 100
	}
	ops := []Operation{}
	err := a.db.SelectContext(ctx, &ops, `SELECT * FROM operations ORDER BY started_at DESC, id LIMIT ?`, limit)
	return ops, err
}

func (a *Audit) ListChangelists(ctx context.Context, st synctypes.ServiceType, limit int) ([]Changelist, error) {
	if limit <= 0 {
		limit = 100
	}
	cls := []Changelist{}
	err := a.db.SelectContext(ctx, &cls,
		`SELECT * FROM changelists WHERE service_type = ? ORDER BY id DESC LIMIT ?`, string(st), limit)
	return cls, err
}

func operationStatus(res *Result) OperationStatus {
	switch res.Status {
	case StateCommitted:
		return OperationCommitted
	case StatePartialIncomplete:
		return OperationPartial
	case StateRolledBack:
		if errors.Is(res.Err, synctypes.ErrCancelled) {
			return OperationCancelledByAdmin
		}
		return OperationRolledBack
	}
	return OperationActive
}
