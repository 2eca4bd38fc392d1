package revision

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
)

// LocalBackend keeps blobs under root/<service>/objects/<ab>/<hash>
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(root); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) Root() string {
	return b.root
}

func (b *LocalBackend) Write(ctx context.Context, st synctypes.ServiceType, r io.Reader, expectedHash string) (*BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tmpDir := filepath.Join(b.root, string(st), "tmp")
	if err := utils.EnsureDir(tmpDir); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	tmp, err := os.CreateTemp(tmpDir, "blob-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hr := utils.NewHashingReader(r)
	if _, err := io.Copy(tmp, hr); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp blob: %w", err)
	}

	info := &BlobInfo{Hash: hr.Sum(), Size: hr.Size()}
	if err := checkExpected(info.Hash, expectedHash); err != nil {
		return nil, err
	}

	dst := b.path(st, info.Hash)
	if utils.FileExists(dst) {
		return info, nil
	}
	if err := utils.EnsureParent(dst); err != nil {
		return nil, fmt.Errorf("create object dir: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return nil, fmt.Errorf("promote blob: %w", err)
	}

	return info, nil
}

func (b *LocalBackend) Open(_ context.Context, st synctypes.ServiceType, hash string) (io.ReadCloser, error) {
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path(st, hash))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("blob %s: %w", hash, synctypes.ErrNotFound)
	}
	return f, err
}

func (b *LocalBackend) Exists(_ context.Context, st synctypes.ServiceType, hash string) (bool, error) {
	if err := ValidateHash(hash); err != nil {
		return false, err
	}
	return utils.FileExists(b.path(st, hash)), nil
}

func (b *LocalBackend) Remove(_ context.Context, st synctypes.ServiceType, hash string) error {
	if err := ValidateHash(hash); err != nil {
		return err
	}
	err := os.Remove(b.path(st, hash))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (b *LocalBackend) path(st synctypes.ServiceType, hash string) string {
	return filepath.Join(b.root, filepath.FromSlash(objectKey(st, hash)))
}

var _ ContentBackend = (*LocalBackend)(nil)
