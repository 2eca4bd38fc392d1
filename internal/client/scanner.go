package client

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/InsereNomen/AlderSync/internal/ignore"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
)

// LocalFile is one file found by a folder scan
type LocalFile struct {
	Path        string
	ContentHash string
	Size        int64
	ModifiedAt  time.Time
}

type Scanner struct {
	root   string
	ignore *ignore.List
}

func NewScanner(root string, ignoreList *ignore.List) *Scanner {
	return &Scanner{root: root, ignore: ignoreList}
}

// Scan walks the folder and hashes every file that is not ignored. Files whose
// size and mtime match known are not hashed again.
func (s *Scanner) Scan(ctx context.Context, known map[string]JournalEntry) (map[string]LocalFile, error) {
	files := make(map[string]LocalFile)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk error: %w", walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		relPath, err := filepath.Rel(s.root, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}

		if d.IsDir() {
			if s.ignore.ShouldIgnore(relPath + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || s.ignore.ShouldIgnore(relPath) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("scan stat", "path", relPath, "error", err)
			return nil
		}
		mtime := synctypes.TruncateTime(info.ModTime())

		hash := ""
		if prev, ok := known[relPath]; ok && prev.Size == info.Size() && prev.ModifiedAt.Equal(mtime) {
			hash = prev.ContentHash
		} else if hash, err = utils.FileHash(path); err != nil {
			slog.Warn("scan hash", "path", relPath, "error", err)
			return nil
		}

		files[relPath] = LocalFile{
			Path:        relPath,
			ContentHash: hash,
			Size:        info.Size(),
			ModifiedAt:  mtime,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("local scan failed: %w", err)
	}

	return files, nil
}

// BuildManifest turns a scan into a client manifest. Journal paths missing
// from the scan are sent as deletions.
func BuildManifest(st synctypes.ServiceType, files map[string]LocalFile, journal map[string]JournalEntry, lastSync time.Time) synctypes.ClientManifest {
	m := synctypes.ClientManifest{
		ServiceType: st,
		LastSync:    lastSync,
		Entries:     make([]synctypes.ClientEntry, 0, len(files)),
	}

	for _, f := range files {
		m.Entries = append(m.Entries, synctypes.ClientEntry{
			Path:        f.Path,
			ModifiedAt:  f.ModifiedAt,
			Size:        f.Size,
			ContentHash: f.ContentHash,
		})
	}
	for p, e := range journal {
		if _, ok := files[p]; ok {
			continue
		}
		m.Entries = append(m.Entries, synctypes.ClientEntry{
			Path:        p,
			ModifiedAt:  e.ModifiedAt,
			Size:        e.Size,
			ContentHash: e.ContentHash,
			Deleted:     true,
		})
	}

	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].Path < m.Entries[j].Path
	})
	return m
}
