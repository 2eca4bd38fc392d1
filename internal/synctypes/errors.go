package synctypes

import "errors"

var (
	// ErrBusy is returned when another holder owns the lock for a service type
	ErrBusy = errors.New("service is busy")
	// ErrExpired is returned when a lock outlived its timeout
	ErrExpired = errors.New("lock expired")
	// ErrCancelled is returned when the lock was cancelled by an administrator
	ErrCancelled = errors.New("lock cancelled")
	// ErrIntegrity is returned when received content does not match its declared hash
	ErrIntegrity = errors.New("integrity violation")
	// ErrStoreFailure is returned when the revision store could not persist a change
	ErrStoreFailure = errors.New("store failure")
	// ErrInvalidManifest is returned for malformed manifests and paths
	ErrInvalidManifest = errors.New("invalid manifest")

	ErrNotFound            = errors.New("not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidState        = errors.New("invalid transaction state")
)
