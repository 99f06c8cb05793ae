// Package devicekey persists a device-unique Root-of-Trust and derives
// per-purpose subkeys from it using AES-CMAC-KDF (NIST SP 800-108 §5.1
// counter mode), generalized to arbitrary purposes and to 128- or 256-bit
// root keys.
package devicekey

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/brennawood/fkv/internal/cmaccrypto"
	"github.com/brennawood/fkv/pkg/nvstore"
)

// RoT key sizes accepted by InjectRootOfTrust and produced by GenerateDerivedKey.
const (
	KeySize128 = 16
	KeySize256 = 32
)

// RootKeySlot is the reserved NVStore key under which the Root-of-Trust is
// persisted. Callers wire their NVStore instance's reserved-key range around
// this value; it is never exposed to SecureStore or TDBStore callers.
const RootKeySlot = 0x001

// TRNG fills buf with cryptographically secure random bytes. A hardware TRNG
// implementation satisfies this with a true entropy source; the default
// (see NewSoftwareTRNG) is a software DRBG, matching spec.md §3's allowance
// for either a hardware TRNG or a software fallback.
type TRNG interface {
	Read(buf []byte) error
}

// Store derives per-purpose keys from a single persisted Root-of-Trust.
// InjectRootOfTrust and GenerateDerivedKey serialize on an internal mutex,
// so they may be called from several goroutines sharing one instance.
type Store struct {
	mu     sync.Mutex
	nv     *nvstore.Store
	trng   TRNG
	logger *slog.Logger
}

// Option configures a Store at construction.
type Option func(*Store)

// WithTRNG overrides the default software TRNG, e.g. to plug in a hardware
// entropy source.
func WithTRNG(t TRNG) Option {
	return func(s *Store) { s.trng = t }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store that persists its Root-of-Trust in nv under
// RootKeySlot. nv must already be initialized.
func New(nv *nvstore.Store, opts ...Option) *Store {
	s := &Store{nv: nv, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.trng == nil {
		s.trng = NewSoftwareTRNG()
	}
	return s
}

// InjectRootOfTrust persists buf (16 or 32 bytes) as the device's
// Root-of-Trust. It is idempotent only in that a second successful
// injection is rejected with ErrAlreadyExists (spec.md §4.2); there is no
// supported way to rotate the RoT short of a factory reset of the
// underlying NVStore.
func (s *Store) InjectRootOfTrust(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(buf) != KeySize128 && len(buf) != KeySize256 {
		return ErrInvalidSize
	}
	var existing [KeySize256]byte
	if _, err := s.nv.Get(RootKeySlot, existing[:]); err == nil {
		return ErrAlreadyExists
	}
	if err := s.nv.SetOnce(RootKeySlot, buf); err != nil {
		s.logger.Error("devicekey: failed to persist root of trust", "err", err)
		return ErrSaveFailed
	}
	s.logger.Info("devicekey: root of trust injected", "size", len(buf))
	return nil
}

// GenerateDerivedKey writes an N-byte subkey derived from the persisted RoT
// and salt into out (len(out) must equal keyType, 16 or 32). If no RoT is
// present yet, it fills and injects a fresh one from the configured TRNG
// before deriving; if no TRNG is available (NewSoftwareTRNG never fails, so
// this only applies to a caller-supplied hardware TRNG returning an error),
// it fails with ErrNoKeyInjected.
func (s *Store) GenerateDerivedKey(salt []byte, out []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(out) != KeySize128 && len(out) != KeySize256 {
		return ErrInvalidSize
	}

	rot, err := s.readRoT()
	if err != nil {
		if err != ErrNotFound {
			return err
		}
		rot = make([]byte, KeySize128)
		if terr := s.trng.Read(rot); terr != nil {
			return ErrNoKeyInjected
		}
		if serr := s.nv.SetOnce(RootKeySlot, rot); serr != nil {
			s.logger.Error("devicekey: failed to persist auto-generated root of trust", "err", serr)
			return ErrSaveFailed
		}
		s.logger.Info("devicekey: root of trust auto-generated from TRNG")
	}

	return deriveCMACKDF(rot, salt, out)
}

// FillRandom fills buf from the configured TRNG directly, bypassing the
// RoT. SecureStore uses this for per-record nonces (spec.md §3.4).
func (s *Store) FillRandom(buf []byte) error {
	return s.trng.Read(buf)
}

func (s *Store) readRoT() ([]byte, error) {
	var buf [KeySize256]byte
	n, err := s.nv.Get(RootKeySlot, buf[:])
	if err != nil {
		return nil, ErrNotFound
	}
	if n != KeySize128 && n != KeySize256 {
		return nil, ErrNotFound
	}
	rot := make([]byte, n)
	copy(rot, buf[:n])
	return rot, nil
}

// deriveCMACKDF implements the NIST SP 800-108 §5.1 counter-mode KDF with
// AES-CMAC as the PRF: K_i = CMAC(key, [i]_1 || label || 0x00 || [L]_4),
// blocks concatenated until len(out) bytes are produced. L is the output
// length in bits, encoded little-endian (distinct from SP 800-108's own
// big-endian context encoding; this repo's wire format is little-endian
// throughout).
func deriveCMACKDF(key, label []byte, out []byte) error {
	need := len(out)
	produced := 0
	counter := byte(1)
	for produced < need {
		msg := make([]byte, 0, 1+len(label)+1+4)
		msg = append(msg, counter)
		msg = append(msg, label...)
		msg = append(msg, 0x00)
		var lBuf [4]byte
		binary.LittleEndian.PutUint32(lBuf[:], uint32(need*8))
		msg = append(msg, lBuf[:]...)

		block, err := cmaccrypto.CMAC(key, msg)
		if err != nil {
			return err
		}
		n := copy(out[produced:], block)
		produced += n
		counter++
	}
	return nil
}
