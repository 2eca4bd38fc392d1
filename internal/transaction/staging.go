package transaction

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
	"github.com/google/uuid"
)

// StagingArea holds client uploads per transaction until the transaction is applied
type StagingArea struct {
	root string
}

func NewStagingArea(root string) (*StagingArea, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &StagingArea{root: root}, nil
}

// Stage stores the client copy of path for transaction txID and returns its hash and size
func (s *StagingArea) Stage(txID, path string, r io.Reader) (string, int64, error) {
	local, err := s.path(txID, path)
	if err != nil {
		return "", 0, err
	}
	return utils.WriteFileAtomic(local, r, "")
}

// Staged reports whether the client copy of path was staged
func (s *StagingArea) Staged(txID, path string) bool {
	local, err := s.path(txID, path)
	return err == nil && utils.FileExists(local)
}

// Remove drops everything staged for txID
func (s *StagingArea) Remove(txID string) error {
	if err := uuid.Validate(txID); err != nil {
		return fmt.Errorf("%w: bad transaction id", synctypes.ErrTransactionNotFound)
	}
	return os.RemoveAll(filepath.Join(s.root, txID))
}

// Sweep removes staging directories untouched for longer than maxAge
func (s *StagingArea) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		slog.Warn("staging sweep", "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || time.Since(info.ModTime()) < maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			slog.Warn("staging sweep", "dir", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed
}

// Transfer returns the server side Transfer of txID. Fetch reads staged uploads.
// Deliver only acknowledges: the client downloads delivered revisions after apply.
func (s *StagingArea) Transfer(txID string) Transfer {
	return &stagingTransfer{area: s, txID: txID}
}

func (s *StagingArea) path(txID, path string) (string, error) {
	if err := uuid.Validate(txID); err != nil {
		return "", fmt.Errorf("%w: bad transaction id", synctypes.ErrTransactionNotFound)
	}
	p, err := synctypes.NormalizePath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, txID, "files", filepath.FromSlash(p)), nil
}

type stagingTransfer struct {
	area *StagingArea
	txID string
}

func (t *stagingTransfer) Fetch(_ context.Context, path string) (io.ReadCloser, error) {
	local, err := t.area.path(t.txID, path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(local)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s was not uploaded: %w", path, synctypes.ErrNotFound)
	}
	return f, err
}

func (t *stagingTransfer) Deliver(context.Context, Delivery) error {
	return nil
}

func (t *stagingTransfer) DeliversLater() bool {
	return true
}
