package synctypes

import (
	"fmt"
	"time"
)

// TimeResolution is the smallest modification time difference that is considered a change
const TimeResolution = time.Second

// ClientEntry describes one file as the client sees it
type ClientEntry struct {
	Path        string    `json:"path"`
	ModifiedAt  time.Time `json:"modified_at"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash,omitempty"`
	// Deleted is set when the file was present at the last sync and is gone locally
	Deleted bool `json:"deleted,omitempty"`
}

// ClientManifest is the inventory a client sends when it begins a transaction
type ClientManifest struct {
	ServiceType ServiceType   `json:"service_type"`
	LastSync    time.Time     `json:"last_sync,omitempty"`
	Entries     []ClientEntry `json:"entries"`
}

// ServerEntry describes the current revision of one file in the store
type ServerEntry struct {
	Path        string    `json:"path"`
	Revision    int       `json:"revision"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modified_at"`
	Owner       string    `json:"owner,omitempty"`
}

// ServerManifest is the current state of one service type
type ServerManifest struct {
	Files map[string]ServerEntry `json:"files"`
	// Tombstones maps deleted paths to the time of deletion
	Tombstones map[string]time.Time `json:"tombstones,omitempty"`
}

func NewServerManifest() ServerManifest {
	return ServerManifest{
		Files:      make(map[string]ServerEntry),
		Tombstones: make(map[string]time.Time),
	}
}

// Validate normalizes every entry in place and rejects duplicates
func (m *ClientManifest) Validate() error {
	if !m.ServiceType.Valid() {
		return fmt.Errorf("%w: unknown service type %q", ErrInvalidManifest, m.ServiceType)
	}

	seen := make(map[string]struct{}, len(m.Entries))
	for i := range m.Entries {
		e := &m.Entries[i]
		p, err := NormalizePath(e.Path)
		if err != nil {
			return err
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("%w: duplicate path %q", ErrInvalidManifest, p)
		}
		seen[p] = struct{}{}

		if e.Size < 0 {
			return fmt.Errorf("%w: negative size for %q", ErrInvalidManifest, p)
		}
		if !e.Deleted && e.ModifiedAt.IsZero() {
			return fmt.Errorf("%w: missing modified_at for %q", ErrInvalidManifest, p)
		}

		e.Path = p
		e.ModifiedAt = TruncateTime(e.ModifiedAt)
	}
	m.LastSync = TruncateTime(m.LastSync)

	return nil
}

// TruncateTime converts t to UTC at the comparison resolution
func TruncateTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(TimeResolution)
}
