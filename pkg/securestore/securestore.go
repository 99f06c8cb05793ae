// Package securestore layers AES-CTR confidentiality and AES-CMAC
// integrity over an underlying kvstore.Store, with optional
// rollback-protection tokens pinned into a separate NVStore domain
// (spec.md §3.4/§4.5). It implements kvstore.Store itself so SecureStore
// and TDBStore are interchangeable from a caller's perspective.
package securestore

import (
	"log/slog"
	"sync"

	"github.com/brennawood/fkv/pkg/devicekey"
	"github.com/brennawood/fkv/pkg/kvstore"
	"github.com/brennawood/fkv/pkg/nvstore"
)

const cmacSize = 16
const nonceSize = 8

// metaSize is metadata_size marker(2) + revision(2) + plaintext data_size(4)
// + create_flags(4) + nonce(8), the record_metadata block spec.md §3.4
// describes preceding the ciphertext.
const metaSize = 2 + 2 + 4 + 4 + nonceSize

const metaRevision uint16 = 1

// NVSTOREStoragliteOwner is the NVStore owner id reserved for SecureStore
// (spec.md §6.4). This package's token storage does not use it: token slots
// are derived from the key name by rpSlot, not allocated by owner.
const NVSTOREStoragliteOwner byte = 0x53 // 'S'

// Store wraps an underlying kvstore.Store (ciphertext/plaintext storage)
// and an optional rollback-protection NVStore instance.
type Store struct {
	mu sync.Mutex

	underlying kvstore.Store
	rbp        *nvstore.Store
	keys       *devicekey.Store

	logger *slog.Logger

	activeWriter *writer
}

// Option configures a Store at construction.
type Option func(*Store)

// WithRollbackProtection attaches the NVStore instance RP tokens are
// pinned into. Without this option, REQUIRE_REPLAY_PROTECTION records are
// rejected with InvalidArgument.
func WithRollbackProtection(rbp *nvstore.Store) Option {
	return func(s *Store) { s.rbp = rbp }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New wraps underlying with confidentiality/integrity/rollback-protection,
// deriving subkeys from keys.
func New(underlying kvstore.Store, keys *devicekey.Store, opts ...Option) *Store {
	s := &Store{underlying: underlying, keys: keys, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Init() error   { return s.underlying.Init() }
func (s *Store) Deinit() error { return s.underlying.Deinit() }
func (s *Store) Reset() error  { return s.underlying.Reset() }

// Underlying returns the wrapped store, letting callers reach
// engine-specific operations (e.g. tdbstore's backup/factory-reset
// support) that kvstore.Store itself doesn't expose.
func (s *Store) Underlying() kvstore.Store { return s.underlying }

func encKeySalt(key string) []byte  { return append([]byte("ENC"), []byte(key)...) }
func authKeySalt(key string) []byte { return append([]byte("AUTH"), []byte(key)...) }

var _ kvstore.Store = (*Store)(nil)
