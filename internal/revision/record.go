package revision

import (
	"fmt"
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
)

// FileRecord is one stored revision of one path
type FileRecord struct {
	ServiceType  synctypes.ServiceType `json:"service_type"`
	Path         string                `json:"path"`
	Revision     int                   `json:"revision"`
	ContentHash  string                `json:"content_hash,omitempty"`
	Size         int64                 `json:"size"`
	ModifiedAt   time.Time             `json:"modified_at"`
	IsDeleted    bool                  `json:"is_deleted"`
	Owner        string                `json:"owner"`
	ChangelistID int64                 `json:"changelist_id,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// ServerEntry converts a live record to its manifest form
func (r *FileRecord) ServerEntry() synctypes.ServerEntry {
	return synctypes.ServerEntry{
		Path:        r.Path,
		Revision:    r.Revision,
		ContentHash: r.ContentHash,
		Size:        r.Size,
		ModifiedAt:  r.ModifiedAt,
		Owner:       r.Owner,
	}
}

// PutOptions carries the metadata that accompanies new content
type PutOptions struct {
	ModifiedAt time.Time
	Owner      string
	// ExpectedHash, when set, must match the SHA-256 of the content
	ExpectedHash string
	ChangelistID int64
}

// dbFileRecord is the row shape. Times are stored as RFC3339 TEXT.
type dbFileRecord struct {
	ServiceType  string `db:"service_type"`
	Path         string `db:"path"`
	Revision     int    `db:"revision"`
	ContentHash  string `db:"content_hash"`
	Size         int64  `db:"size"`
	ModifiedAt   string `db:"modified_at"`
	IsDeleted    bool   `db:"is_deleted"`
	Owner        string `db:"owner"`
	ChangelistID int64  `db:"changelist_id"`
	CreatedAt    string `db:"created_at"`
}

func toDB(r *FileRecord) dbFileRecord {
	return dbFileRecord{
		ServiceType:  string(r.ServiceType),
		Path:         r.Path,
		Revision:     r.Revision,
		ContentHash:  r.ContentHash,
		Size:         r.Size,
		ModifiedAt:   r.ModifiedAt.UTC().Format(time.RFC3339),
		IsDeleted:    r.IsDeleted,
		Owner:        r.Owner,
		ChangelistID: r.ChangelistID,
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (d dbFileRecord) toRecord() (*FileRecord, error) {
	modifiedAt, err := time.Parse(time.RFC3339, d.ModifiedAt)
	if err != nil {
		return nil, fmt.Errorf("parse modified_at for %s: %w", d.Path, err)
	}
	createdAt, err := time.Parse(time.RFC3339, d.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", d.Path, err)
	}

	return &FileRecord{
		ServiceType:  synctypes.ServiceType(d.ServiceType),
		Path:         d.Path,
		Revision:     d.Revision,
		ContentHash:  d.ContentHash,
		Size:         d.Size,
		ModifiedAt:   modifiedAt.UTC(),
		IsDeleted:    d.IsDeleted,
		Owner:        d.Owner,
		ChangelistID: d.ChangelistID,
		CreatedAt:    createdAt.UTC(),
	}, nil
}
