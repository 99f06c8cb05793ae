package nvstore

import "errors"

// NVStore has its own small status vocabulary distinct from the shared
// KVStore contract in pkg/kvstore: it is not part of that interface (spec.md
// §6.1 lists only TDBStore, SecureStore and FileSystemStore), so its errors
// are plain sentinel values in the usual Go style rather than kvstore's
// StoreError/Status pairing.
var (
	ErrNotFound        = errors.New("nvstore: not found")
	ErrAlreadyExists   = errors.New("nvstore: already exists (set once)")
	ErrInvalidSize     = errors.New("nvstore: invalid size")
	ErrInvalidArgument = errors.New("nvstore: invalid argument")
	ErrMediaFull       = errors.New("nvstore: media full")
	ErrWriteError      = errors.New("nvstore: write error")
	ErrReadError       = errors.New("nvstore: read error")
	ErrDataCorrupt     = errors.New("nvstore: data corrupt")
	ErrNotReady        = errors.New("nvstore: not ready")
)
