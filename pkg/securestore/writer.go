package securestore

import (
	"crypto/cipher"

	"github.com/brennawood/fkv/internal/cmaccrypto"
	"github.com/brennawood/fkv/pkg/kvstore"
)

// writer streams a plaintext payload straight through to the underlying
// store's own streaming writer: every Add call is encrypted (if
// confidentiality is required) and folded into the running CMAC as it
// arrives, so the only plaintext ever resident in RAM at once is whatever
// the caller's current Add chunk holds. The CMAC's own pending-block buffer
// (at most 16 bytes, see cmaccrypto.Mac) is the sole additional state kept
// between calls. Like tdbstore's writer, it holds the store's lock for its
// entire lifetime; Finalize or Abort must be called to release it.
type writer struct {
	s     *Store
	key   string
	flags kvstore.Flags

	finalSize uint32
	written   uint32

	uw     kvstore.Writer
	stream cipher.Stream // nil when confidentiality isn't required
	mac    *cmaccrypto.Mac

	aborted, done bool
}

// SetStart begins a streaming write of a record whose total plaintext size
// is known up front. The record's metadata (and therefore its on-flash
// size) can be fixed immediately, so the underlying store's own SetStart is
// opened right away and the metadata block streamed into it before the
// first plaintext Add arrives.
func (s *Store) SetStart(key string, finalSize uint32, flags kvstore.Flags) (kvstore.Writer, error) {
	s.mu.Lock()
	if s.activeWriter != nil {
		s.mu.Unlock()
		return nil, kvstore.NewError("set_start", key, kvstore.NotReady, nil)
	}
	if err := kvstore.ValidateKey(key); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := kvstore.ValidateFlags(flags); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := s.checkFlagStability(key, flags); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if flags.Has(kvstore.RequireReplayProtection) && s.rbp == nil {
		s.mu.Unlock()
		return nil, kvstore.NewError("set_start", key, kvstore.InvalidArgument, errNoRBPStore)
	}

	var nonce [nonceSize]byte
	if err := s.keys.FillRandom(nonce[:]); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	meta := recordMeta{
		metaSize:    uint16(metaSize),
		revision:    metaRevision,
		dataSize:    finalSize,
		createFlags: uint32(flags),
		nonce:       nonce,
	}
	metaBytes := encodeMeta(meta)

	var authKey [derivedKeySize]byte
	if err := s.keys.GenerateDerivedKey(authKeySalt(key), authKey[:]); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	mac, err := cmaccrypto.NewMac(authKey[:])
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	mac.Write([]byte(key))
	mac.Write(metaBytes)

	var stream cipher.Stream
	if flags.Has(kvstore.RequireConfidentiality) {
		var encKey [derivedKeySize]byte
		if err := s.keys.GenerateDerivedKey(encKeySalt(key), encKey[:]); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		stream, err = cmaccrypto.NewCTRStream(encKey[:], nonce[:])
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}

	uw, err := s.underlying.SetStart(key, uint32(metaSize)+finalSize+cmacSize, flags)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if err := uw.Add(metaBytes); err != nil {
		uw.Abort()
		s.mu.Unlock()
		return nil, err
	}

	w := &writer{s: s, key: key, flags: flags, finalSize: finalSize, uw: uw, stream: stream, mac: mac}
	s.activeWriter = w
	return w, nil
}

// Add encrypts (if required) and MACs the next chunk of plaintext, then
// streams the ciphertext straight into the underlying writer. The lock
// acquired by SetStart is still held; callers must not call Add from
// another goroutine concurrently with Finalize/Abort.
func (w *writer) Add(data []byte) error {
	if w.done || w.aborted {
		return kvstore.NewError("set_add_data", w.key, kvstore.NotReady, nil)
	}
	if w.written+uint32(len(data)) > w.finalSize {
		return kvstore.NewError("set_add_data", w.key, kvstore.InvalidArgument, nil)
	}
	if len(data) == 0 {
		return nil
	}

	ciphertext := data
	if w.stream != nil {
		ciphertext = make([]byte, len(data))
		w.stream.XORKeyStream(ciphertext, data)
	}
	w.mac.Write(ciphertext)
	if err := w.uw.Add(ciphertext); err != nil {
		return kvstore.NewError("set_add_data", w.key, kvstore.WriteError, err)
	}
	w.written += uint32(len(data))
	return nil
}

// Finalize folds the CMAC tag in as the record's trailing bytes, commits
// the now-complete record to the underlying store, and pins the
// rollback-protection token if required, releasing the lock held since
// SetStart.
func (w *writer) Finalize() error {
	defer func() {
		w.done = true
		w.s.activeWriter = nil
		w.s.mu.Unlock()
	}()
	if w.done || w.aborted {
		return kvstore.NewError("set_finalize", w.key, kvstore.NotReady, nil)
	}
	if w.written != w.finalSize {
		return kvstore.NewError("set_finalize", w.key, kvstore.InvalidArgument, nil)
	}

	tag := w.mac.Sum()
	if err := w.uw.Add(tag); err != nil {
		return kvstore.NewError("set_finalize", w.key, kvstore.WriteError, err)
	}
	if err := w.uw.Finalize(); err != nil {
		return err
	}
	if w.flags.Has(kvstore.RequireReplayProtection) {
		if err := w.s.writeRPToken(w.key, tag, w.flags.Has(kvstore.WriteOnce)); err != nil {
			return kvstore.NewError("set_finalize", w.key, kvstore.WriteError, err)
		}
	}
	return nil
}

// Abort discards progress and releases the lock. The underlying writer's
// own Abort leaves its partial record on flash but permanently invisible.
func (w *writer) Abort() error {
	defer func() {
		w.aborted = true
		w.s.activeWriter = nil
		w.s.mu.Unlock()
	}()
	if w.done || w.aborted {
		return kvstore.NewError("abort", w.key, kvstore.NotReady, nil)
	}
	return w.uw.Abort()
}
