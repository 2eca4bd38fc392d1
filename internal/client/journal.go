package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/InsereNomen/AlderSync/internal/db"
	"github.com/jmoiron/sqlx"
)

// StateDir holds the journal and the folder lock inside a synced folder
const StateDir = ".aldersync"

const journalFile = "journal.db"

var journalSchema = []string{
	`CREATE TABLE IF NOT EXISTS sync_journal (
		path TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL,
		size INTEGER NOT NULL,
		revision INTEGER NOT NULL DEFAULT -1,
		modified_at TEXT NOT NULL -- RFC3339
	)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

const lastSyncKey = "last_sync"

// JournalEntry is a file as it was when the folder last synced
type JournalEntry struct {
	Path        string
	ContentHash string
	Size        int64
	Revision    int
	ModifiedAt  time.Time
}

type dbJournalEntry struct {
	Path        string `db:"path"`
	ContentHash string `db:"content_hash"`
	Size        int64  `db:"size"`
	Revision    int    `db:"revision"`
	ModifiedAt  string `db:"modified_at"`
}

// Journal remembers what a folder looked like after its last sync
type Journal struct {
	db *sqlx.DB
}

func OpenJournal(folder string) (*Journal, error) {
	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(folder, StateDir, journalFile)))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Migrate(database, journalSchema...); err != nil {
		database.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: database}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// LastSync is zero until the folder completed a sync
func (j *Journal) LastSync(ctx context.Context) (time.Time, error) {
	var value string
	err := j.db.GetContext(ctx, &value, `SELECT value FROM sync_state WHERE key = ?`, lastSyncKey)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	} else if err != nil {
		return time.Time{}, fmt.Errorf("read last sync: %w", err)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last sync %q: %w", value, err)
	}
	return t, nil
}

func (j *Journal) Entries(ctx context.Context) (map[string]JournalEntry, error) {
	var rows []dbJournalEntry
	if err := j.db.SelectContext(ctx, &rows, `SELECT path, content_hash, size, revision, modified_at FROM sync_journal`); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	entries := make(map[string]JournalEntry, len(rows))
	for _, row := range rows {
		mtime, err := time.Parse(time.RFC3339, row.ModifiedAt)
		if err != nil {
			slog.Warn("journal entry skipped", "path", row.Path, "modified_at", row.ModifiedAt, "error", err)
			continue
		}
		entries[row.Path] = JournalEntry{
			Path:        row.Path,
			ContentHash: row.ContentHash,
			Size:        row.Size,
			Revision:    row.Revision,
			ModifiedAt:  mtime,
		}
	}
	return entries, nil
}

// Commit replaces the journal with entries. A nil lastSync leaves the recorded time alone.
func (j *Journal) Commit(ctx context.Context, entries []JournalEntry, lastSync *time.Time) error {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal commit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_journal`); err != nil {
		return fmt.Errorf("clear journal: %w", err)
	}

	for _, e := range entries {
		row := dbJournalEntry{
			Path:        e.Path,
			ContentHash: e.ContentHash,
			Size:        e.Size,
			Revision:    e.Revision,
			ModifiedAt:  e.ModifiedAt.UTC().Format(time.RFC3339),
		}
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO sync_journal (path, content_hash, size, revision, modified_at)
			VALUES (:path, :content_hash, :size, :revision, :modified_at)`, row)
		if err != nil {
			return fmt.Errorf("journal %s: %w", e.Path, err)
		}
	}

	if lastSync != nil {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO sync_state (key, value) VALUES (?, ?)`,
			lastSyncKey, lastSync.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("record last sync: %w", err)
		}
	}

	return tx.Commit()
}
