package revision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/InsereNomen/AlderSync/internal/synctypes"
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

var ErrInvalidHash = errors.New("invalid content hash")

// BlobInfo describes content held by a backend
type BlobInfo struct {
	Hash string
	Size int64
}

// ContentBackend stores immutable content addressed by its SHA-256, one namespace per service type.
type ContentBackend interface {
	// Write stores r and returns its hash. A non-empty expectedHash that does not
	// match the content fails with synctypes.ErrIntegrity and stores nothing.
	Write(ctx context.Context, st synctypes.ServiceType, r io.Reader, expectedHash string) (*BlobInfo, error)
	// Open returns the content for hash or synctypes.ErrNotFound
	Open(ctx context.Context, st synctypes.ServiceType, hash string) (io.ReadCloser, error)
	Exists(ctx context.Context, st synctypes.ServiceType, hash string) (bool, error)
	// Remove deletes the content. Removing missing content is not an error.
	Remove(ctx context.Context, st synctypes.ServiceType, hash string) error
}

// ValidateHash reports whether hash looks like a hex SHA-256
func ValidateHash(hash string) error {
	if !hashPattern.MatchString(hash) {
		return fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return nil
}

// objectKey is the slash separated location of a blob relative to a backend root
func objectKey(st synctypes.ServiceType, hash string) string {
	return string(st) + "/objects/" + hash[:2] + "/" + hash
}

func checkExpected(actual, expected string) error {
	if expected != "" && actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", synctypes.ErrIntegrity, expected, actual)
	}
	return nil
}
