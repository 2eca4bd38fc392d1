package revision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/InsereNomen/AlderSync/internal/db"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"
)

const DefaultMaxRevisions = 10

var schema = []string{
	`CREATE TABLE IF NOT EXISTS files (
		service_type TEXT NOT NULL,
		path TEXT NOT NULL,
		revision INTEGER NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		modified_at TEXT NOT NULL, -- RFC3339
		is_deleted INTEGER NOT NULL DEFAULT 0,
		owner TEXT NOT NULL DEFAULT '',
		changelist_id INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL, -- RFC3339
		PRIMARY KEY (service_type, path, revision)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_deleted ON files(service_type, is_deleted)`,
	`CREATE INDEX IF NOT EXISTS idx_files_path_revision ON files(service_type, path, revision DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_files_hash ON files(service_type, content_hash)`,
}

const recordColumns = `service_type, path, revision, content_hash, size, modified_at, is_deleted, owner, changelist_id, created_at`

// Store keeps every revision of every path for all service types.
// Metadata lives in SQLite, content in a ContentBackend.
type Store struct {
	db           *sqlx.DB
	backend      ContentBackend
	maxRevisions int
	clock        clockwork.Clock

	paths *keyedMutex
	// held shared between writing a blob and recording it, exclusively while removing blobs
	gcMu sync.RWMutex
}

type StoreOption func(*Store)

// WithMaxRevisions sets how many non-current revisions are kept per path
func WithMaxRevisions(n int) StoreOption {
	return func(s *Store) {
		if n >= 0 {
			s.maxRevisions = n
		}
	}
}

func WithClock(clock clockwork.Clock) StoreOption {
	return func(s *Store) {
		s.clock = clock
	}
}

func NewStore(database *sqlx.DB, backend ContentBackend, opts ...StoreOption) (*Store, error) {
	s := &Store{
		db:           database,
		backend:      backend,
		maxRevisions: DefaultMaxRevisions,
		clock:        clockwork.NewRealClock(),
		paths:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := db.Migrate(database, schema...); err != nil {
		return nil, fmt.Errorf("revision store schema: %w", err)
	}

	return s, nil
}

func (s *Store) MaxRevisions() int {
	return s.maxRevisions
}

// Put stores content as the new current revision of path
func (s *Store) Put(ctx context.Context, st synctypes.ServiceType, path string, content io.Reader, opts PutOptions) (*FileRecord, error) {
	path, err := checkTarget(st, path)
	if err != nil {
		return nil, err
	}

	unlock := s.paths.Lock(pathKey(st, path))
	defer unlock()

	s.gcMu.RLock()
	rec, err := s.putLocked(ctx, st, path, content, opts)
	s.gcMu.RUnlock()
	if err != nil {
		return nil, err
	}

	s.prune(ctx, st, path)
	slog.Debug("revision put", "service", st, "path", path, "revision", rec.Revision, "size", rec.Size)
	return rec, nil
}

func (s *Store) putLocked(ctx context.Context, st synctypes.ServiceType, path string, content io.Reader, opts PutOptions) (*FileRecord, error) {
	info, err := s.backend.Write(ctx, st, content, opts.ExpectedHash)
	if err != nil {
		return nil, storeFailure("write content", err)
	}

	rec := &FileRecord{
		ServiceType:  st,
		Path:         path,
		ContentHash:  info.Hash,
		Size:         info.Size,
		ModifiedAt:   s.modifiedAt(opts.ModifiedAt),
		Owner:        opts.Owner,
		ChangelistID: opts.ChangelistID,
		CreatedAt:    s.now(),
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		next, err := nextRevision(tx, st, path)
		if err != nil {
			return err
		}
		rec.Revision = next
		return insertRecord(tx, rec)
	})
	if err != nil {
		return nil, storeFailure("record revision", err)
	}

	return rec, nil
}

// Get opens a revision of path. A nil rev selects the current revision.
func (s *Store) Get(ctx context.Context, st synctypes.ServiceType, path string, rev *int) (io.ReadCloser, *FileRecord, error) {
	var rec *FileRecord
	var err error
	if rev == nil {
		rec, err = s.Current(ctx, st, path)
	} else {
		rec, err = s.Record(ctx, st, path, *rev)
	}
	if err != nil {
		return nil, nil, err
	}
	if rec.IsDeleted {
		return nil, nil, fmt.Errorf("%s revision %d is deleted: %w", path, rec.Revision, synctypes.ErrNotFound)
	}

	body, err := s.backend.Open(ctx, st, rec.ContentHash)
	if err != nil {
		return nil, nil, storeFailure("open content", err)
	}
	return body, rec, nil
}

// Current returns the newest revision of path, which may be a tombstone
func (s *Store) Current(ctx context.Context, st synctypes.ServiceType, path string) (*FileRecord, error) {
	path, err := checkTarget(st, path)
	if err != nil {
		return nil, err
	}

	var row dbFileRecord
	err = s.db.GetContext(ctx, &row,
		`SELECT `+recordColumns+` FROM files WHERE service_type = ? AND path = ? ORDER BY revision DESC LIMIT 1`,
		string(st), path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", path, synctypes.ErrNotFound)
	} else if err != nil {
		return nil, storeFailure("query current", err)
	}
	return row.toRecord()
}

// Record returns one specific revision of path
func (s *Store) Record(ctx context.Context, st synctypes.ServiceType, path string, rev int) (*FileRecord, error) {
	path, err := checkTarget(st, path)
	if err != nil {
		return nil, err
	}

	var row dbFileRecord
	err = s.db.GetContext(ctx, &row,
		`SELECT `+recordColumns+` FROM files WHERE service_type = ? AND path = ? AND revision = ?`,
		string(st), path, rev)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s revision %d: %w", path, rev, synctypes.ErrNotFound)
	} else if err != nil {
		return nil, storeFailure("query revision", err)
	}
	return row.toRecord()
}

// Delete records a tombstone as the current revision. History is kept.
func (s *Store) Delete(ctx context.Context, st synctypes.ServiceType, path string, owner string) (*FileRecord, error) {
	path, err := checkTarget(st, path)
	if err != nil {
		return nil, err
	}

	unlock := s.paths.Lock(pathKey(st, path))
	defer unlock()

	now := s.now()
	rec := &FileRecord{
		ServiceType: st,
		Path:        path,
		ModifiedAt:  now,
		IsDeleted:   true,
		Owner:       owner,
		CreatedAt:   now,
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := currentInTx(tx, st, path)
		if err != nil {
			return err
		}
		if current == nil || current.IsDeleted {
			return fmt.Errorf("%s: %w", path, synctypes.ErrNotFound)
		}
		rec.Revision = current.Revision + 1
		return insertRecord(tx, rec)
	})
	if err != nil {
		return nil, storeFailure("record tombstone", err)
	}

	s.prune(ctx, st, path)
	slog.Debug("revision delete", "service", st, "path", path, "revision", rec.Revision)
	return rec, nil
}

// Preserve keeps content as history without displacing the current revision.
// The content is recorded right above the current revision and the current
// revision is then re-recorded on top so it stays current.
func (s *Store) Preserve(ctx context.Context, st synctypes.ServiceType, path string, content io.Reader, opts PutOptions) (*FileRecord, error) {
	path, err := checkTarget(st, path)
	if err != nil {
		return nil, err
	}

	unlock := s.paths.Lock(pathKey(st, path))
	defer unlock()

	s.gcMu.RLock()
	rec, err := s.preserveLocked(ctx, st, path, content, opts)
	s.gcMu.RUnlock()
	if err != nil {
		return nil, err
	}

	s.prune(ctx, st, path)
	slog.Debug("revision preserve", "service", st, "path", path, "revision", rec.Revision)
	return rec, nil
}

func (s *Store) preserveLocked(ctx context.Context, st synctypes.ServiceType, path string, content io.Reader, opts PutOptions) (*FileRecord, error) {
	info, err := s.backend.Write(ctx, st, content, opts.ExpectedHash)
	if err != nil {
		return nil, storeFailure("write content", err)
	}

	now := s.now()
	rec := &FileRecord{
		ServiceType:  st,
		Path:         path,
		ContentHash:  info.Hash,
		Size:         info.Size,
		ModifiedAt:   s.modifiedAt(opts.ModifiedAt),
		Owner:        opts.Owner,
		ChangelistID: opts.ChangelistID,
		CreatedAt:    now,
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := currentInTx(tx, st, path)
		if err != nil {
			return err
		}
		if current == nil || current.IsDeleted {
			return fmt.Errorf("%s has no current revision to keep: %w", path, synctypes.ErrNotFound)
		}

		rec.Revision = current.Revision + 1
		if err := insertRecord(tx, rec); err != nil {
			return err
		}

		promoted := *current
		promoted.Revision = current.Revision + 2
		promoted.CreatedAt = now
		return insertRecord(tx, &promoted)
	})
	if err != nil {
		return nil, storeFailure("record preserved revision", err)
	}

	return rec, nil
}

// Restore makes an older revision current again as a new revision
func (s *Store) Restore(ctx context.Context, st synctypes.ServiceType, path string, rev int, owner string) (*FileRecord, error) {
	old, err := s.Record(ctx, st, path, rev)
	if err != nil {
		return nil, err
	}
	if old.IsDeleted {
		return nil, fmt.Errorf("%s revision %d is a deletion: %w", old.Path, rev, synctypes.ErrNotFound)
	}

	unlock := s.paths.Lock(pathKey(st, old.Path))
	defer unlock()

	s.gcMu.RLock()
	rec, err := s.restoreLocked(ctx, old, owner)
	s.gcMu.RUnlock()
	if err != nil {
		return nil, err
	}

	s.prune(ctx, st, old.Path)
	slog.Info("revision restore", "service", st, "path", old.Path, "from", rev, "revision", rec.Revision, "owner", owner)
	return rec, nil
}

func (s *Store) restoreLocked(ctx context.Context, old *FileRecord, owner string) (*FileRecord, error) {
	exists, err := s.backend.Exists(ctx, old.ServiceType, old.ContentHash)
	if err != nil {
		return nil, storeFailure("check content", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: content for %s revision %d is missing", synctypes.ErrStoreFailure, old.Path, old.Revision)
	}

	now := s.now()
	rec := &FileRecord{
		ServiceType: old.ServiceType,
		Path:        old.Path,
		ContentHash: old.ContentHash,
		Size:        old.Size,
		ModifiedAt:  now,
		Owner:       owner,
		CreatedAt:   now,
	}

	err = s.inTx(ctx, func(tx *sqlx.Tx) error {
		next, err := nextRevision(tx, old.ServiceType, old.Path)
		if err != nil {
			return err
		}
		rec.Revision = next
		return insertRecord(tx, rec)
	})
	if err != nil {
		return nil, storeFailure("record restored revision", err)
	}
	return rec, nil
}

// ListCurrent returns the live files and tombstones of a service type
func (s *Store) ListCurrent(ctx context.Context, st synctypes.ServiceType) (synctypes.ServerManifest, error) {
	manifest := synctypes.NewServerManifest()
	if !st.Valid() {
		return manifest, fmt.Errorf("%w: unknown service type %q", synctypes.ErrInvalidManifest, st)
	}

	var rows []dbFileRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT f.service_type, f.path, f.revision, f.content_hash, f.size, f.modified_at,
			f.is_deleted, f.owner, f.changelist_id, f.created_at
		FROM files f
		JOIN (
			SELECT path, MAX(revision) AS revision FROM files WHERE service_type = ? GROUP BY path
		) c ON f.path = c.path AND f.revision = c.revision
		WHERE f.service_type = ?`, string(st), string(st))
	if err != nil {
		return manifest, storeFailure("list current", err)
	}

	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return manifest, storeFailure("list current", err)
		}
		if rec.IsDeleted {
			manifest.Tombstones[rec.Path] = rec.ModifiedAt
		} else {
			manifest.Files[rec.Path] = rec.ServerEntry()
		}
	}

	return manifest, nil
}

// ListHistory returns every retained revision of path, newest first
func (s *Store) ListHistory(ctx context.Context, st synctypes.ServiceType, path string) ([]*FileRecord, error) {
	path, err := checkTarget(st, path)
	if err != nil {
		return nil, err
	}

	var rows []dbFileRecord
	err = s.db.SelectContext(ctx, &rows,
		`SELECT `+recordColumns+` FROM files WHERE service_type = ? AND path = ? ORDER BY revision DESC`,
		string(st), path)
	if err != nil {
		return nil, storeFailure("list history", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", path, synctypes.ErrNotFound)
	}

	records := make([]*FileRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, storeFailure("list history", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// prune drops non-current revisions beyond the retention count and then any
// content no revision refers to anymore. Failures are logged, the write that
// triggered the prune already succeeded.
func (s *Store) prune(ctx context.Context, st synctypes.ServiceType, path string) {
	ctx = context.WithoutCancel(ctx)

	var hashes []string
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var revs []struct {
			Revision    int    `db:"revision"`
			ContentHash string `db:"content_hash"`
		}
		err := tx.Select(&revs,
			`SELECT revision, content_hash FROM files WHERE service_type = ? AND path = ? ORDER BY revision DESC`,
			string(st), path)
		if err != nil {
			return err
		}

		// revs[0] is current
		excess := len(revs) - 1 - s.maxRevisions
		if excess <= 0 {
			return nil
		}

		// copies of the current content go first, then the oldest
		history := revs[1:]
		victims := make([]int, 0, excess)
		for i := len(history) - 1; i >= 0 && len(victims) < excess; i-- {
			if h := history[i].ContentHash; h != "" && h == revs[0].ContentHash {
				victims = append(victims, i)
			}
		}
		for i := len(history) - 1; i >= 0 && len(victims) < excess; i-- {
			if !slices.Contains(victims, i) {
				victims = append(victims, i)
			}
		}

		for _, i := range victims {
			r := history[i]
			if _, err := tx.Exec(`DELETE FROM files WHERE service_type = ? AND path = ? AND revision = ?`, string(st), path, r.Revision); err != nil {
				return err
			}
			if r.ContentHash != "" {
				hashes = append(hashes, r.ContentHash)
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("revision prune", "service", st, "path", path, "error", err)
		return
	}

	if len(hashes) > 0 {
		s.collectGarbage(ctx, st, hashes)
	}
}

func (s *Store) collectGarbage(ctx context.Context, st synctypes.ServiceType, hashes []string) {
	s.gcMu.Lock()
	defer s.gcMu.Unlock()

	seen := make(map[string]struct{}, len(hashes))
	for _, hash := range hashes {
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}

		var refs int
		if err := s.db.GetContext(ctx, &refs,
			`SELECT COUNT(*) FROM files WHERE service_type = ? AND content_hash = ?`, string(st), hash); err != nil {
			slog.Error("revision gc count", "service", st, "hash", hash, "error", err)
			continue
		}
		if refs > 0 {
			continue
		}
		if err := s.backend.Remove(ctx, st, hash); err != nil {
			slog.Error("revision gc remove", "service", st, "hash", hash, "error", err)
			continue
		}
		slog.Debug("revision gc", "service", st, "hash", hash)
	}
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return tx.Commit()
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

func (s *Store) modifiedAt(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return synctypes.TruncateTime(t)
}

func nextRevision(tx *sqlx.Tx, st synctypes.ServiceType, path string) (int, error) {
	var max sql.NullInt64
	if err := tx.Get(&max, `SELECT MAX(revision) FROM files WHERE service_type = ? AND path = ?`, string(st), path); err != nil {
		return 0, err
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

func currentInTx(tx *sqlx.Tx, st synctypes.ServiceType, path string) (*FileRecord, error) {
	var row dbFileRecord
	err := tx.Get(&row,
		`SELECT `+recordColumns+` FROM files WHERE service_type = ? AND path = ? ORDER BY revision DESC LIMIT 1`,
		string(st), path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return row.toRecord()
}

func insertRecord(tx *sqlx.Tx, rec *FileRecord) error {
	_, err := tx.NamedExec(`INSERT INTO files (`+recordColumns+`)
		VALUES (:service_type, :path, :revision, :content_hash, :size, :modified_at, :is_deleted, :owner, :changelist_id, :created_at)`,
		toDB(rec))
	return err
}

func checkTarget(st synctypes.ServiceType, path string) (string, error) {
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown service type %q", synctypes.ErrInvalidManifest, st)
	}
	return synctypes.NormalizePath(path)
}

func pathKey(st synctypes.ServiceType, path string) string {
	return string(st) + "\x00" + path
}

// storeFailure classifies err as a store failure unless it already carries a more specific meaning
func storeFailure(op string, err error) error {
	switch {
	case errors.Is(err, synctypes.ErrIntegrity),
		errors.Is(err, synctypes.ErrNotFound),
		errors.Is(err, synctypes.ErrInvalidManifest),
		errors.Is(err, synctypes.ErrStoreFailure),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %s: %w", synctypes.ErrStoreFailure, op, err)
}
