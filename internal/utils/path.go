package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path cannot be empty")
	}

	// Expand `~` to the user's home directory
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to retrieve home directory")
		}
		path = strings.Replace(path, "~", homeDir, 1)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path))
}

func EnsureDir(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.MkdirAll(path, 0o755)
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

var ErrHashMismatch = errors.New("content hash mismatch")

// WriteFileAtomic streams r into a temp file next to dst and renames it into place.
// The temp file is synced before the rename so dst is either the old or the new content.
// When expectedHash is set and does not match, dst is left untouched and ErrHashMismatch is returned.
// The hex SHA-256 and byte count of what was written are returned.
func WriteFileAtomic(dst string, r io.Reader, expectedHash string) (string, int64, error) {
	if err := EnsureParent(dst); err != nil {
		return "", 0, fmt.Errorf("ensure parent: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	hr := NewHashingReader(r)
	n, err := io.Copy(tmp, hr)
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close temp: %w", err)
	}

	hash := hr.Sum()
	if expectedHash != "" && hash != expectedHash {
		return "", 0, fmt.Errorf("%w: %s: expected %s, got %s", ErrHashMismatch, filepath.Base(dst), expectedHash, hash)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return "", 0, fmt.Errorf("rename: %w", err)
	}

	return hash, n, nil
}
