package transaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/InsereNomen/AlderSync/internal/revision"
	"github.com/InsereNomen/AlderSync/internal/synctypes"
	"github.com/InsereNomen/AlderSync/internal/utils"
)

// Transfer moves bytes between the orchestrator and the client side of a transaction
type Transfer interface {
	// Fetch returns the client copy of path
	Fetch(ctx context.Context, path string) (io.ReadCloser, error)
	// Deliver hands server content, or a local deletion, to the client
	Deliver(ctx context.Context, d Delivery) error
}

// laterDelivery is implemented by transfers whose Deliver only acknowledges the
// change. The client fetches the content itself after the transaction.
type laterDelivery interface {
	DeliversLater() bool
}

func deliversNow(t Transfer) bool {
	l, ok := t.(laterDelivery)
	return !ok || !l.DeliversLater()
}

// Delivery is one server to client change. Open is nil for local deletions.
type Delivery struct {
	Action synctypes.Action
	Record *revision.FileRecord
	Open   func(ctx context.Context) (io.ReadCloser, error)
}

// DirTransfer reads and writes a client folder on the local filesystem
type DirTransfer struct {
	root string
}

func NewDirTransfer(root string) (*DirTransfer, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("client folder %s does not exist", root)
	}
	return &DirTransfer{root: root}, nil
}

func (d *DirTransfer) Fetch(_ context.Context, path string) (io.ReadCloser, error) {
	local, err := d.localPath(path)
	if err != nil {
		return nil, err
	}
	return os.Open(local)
}

func (d *DirTransfer) Deliver(ctx context.Context, delivery Delivery) error {
	local, err := d.localPath(delivery.Action.Path)
	if err != nil {
		return err
	}

	if delivery.Open == nil {
		if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	body, err := delivery.Open(ctx)
	if err != nil {
		return err
	}
	defer body.Close()

	if _, _, err := utils.WriteFileAtomic(local, body, delivery.Record.ContentHash); err != nil {
		if errors.Is(err, utils.ErrHashMismatch) {
			return fmt.Errorf("%w: %w", synctypes.ErrIntegrity, err)
		}
		return err
	}

	mtime := delivery.Record.ModifiedAt
	return os.Chtimes(local, mtime, mtime)
}

func (d *DirTransfer) localPath(path string) (string, error) {
	p, err := synctypes.NormalizePath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.root, filepath.FromSlash(p)), nil
}

var _ Transfer = (*DirTransfer)(nil)
