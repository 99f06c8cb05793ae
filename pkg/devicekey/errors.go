package devicekey

import "errors"

// DeviceKey's own small status vocabulary (spec.md §4.2), distinct from
// both pkg/kvstore's canonical codes and pkg/nvstore's.
var (
	ErrAlreadyExists = errors.New("devicekey: root of trust already injected")
	ErrInvalidSize   = errors.New("devicekey: invalid key size, must be 16 or 32 bytes")
	ErrSaveFailed    = errors.New("devicekey: failed to persist root of trust")
	ErrNotFound      = errors.New("devicekey: no root of trust injected")
	ErrNoKeyInjected = errors.New("devicekey: no root of trust and no hardware TRNG available")
	ErrNotReady      = errors.New("devicekey: store not initialized")
)
