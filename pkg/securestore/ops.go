package securestore

import (
	"crypto/subtle"

	"github.com/brennawood/fkv/internal/cmaccrypto"
	"github.com/brennawood/fkv/pkg/kvstore"
)

// streamChunkSize bounds the scratch buffer Get/GetInfo read the
// underlying record through; neither holds a full record in RAM at once.
const streamChunkSize = 256

const derivedKeySize = devicekeySize

// devicekeySize is the subkey length SecureStore asks DeviceKey to derive
// for both encryption and authentication (AES-128).
const devicekeySize = 16

// Set encrypts (if requested) and authenticates data, appending it to the
// underlying store and, if REQUIRE_REPLAY_PROTECTION is set, pinning the
// record's CMAC into the configured rollback-protection store.
func (s *Store) Set(key string, data []byte, flags kvstore.Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeWriter != nil {
		return kvstore.NewError("set", key, kvstore.NotReady, nil)
	}
	if err := kvstore.ValidateKey(key); err != nil {
		return err
	}
	if err := kvstore.ValidateFlags(flags); err != nil {
		return err
	}
	if err := s.checkFlagStability(key, flags); err != nil {
		return err
	}
	if flags.Has(kvstore.RequireReplayProtection) && s.rbp == nil {
		return kvstore.NewError("set", key, kvstore.InvalidArgument, errNoRBPStore)
	}

	rec, tag, err := s.seal(key, data, flags)
	if err != nil {
		return kvstore.NewError("set", key, kvstore.WriteError, err)
	}
	if err := s.underlying.Set(key, rec, flags); err != nil {
		return err
	}
	if flags.Has(kvstore.RequireReplayProtection) {
		if err := s.writeRPToken(key, tag, flags.Has(kvstore.WriteOnce)); err != nil {
			return kvstore.NewError("set", key, kvstore.WriteError, err)
		}
	}
	return nil
}

// checkFlagStability rejects a Set that would weaken
// REQUIRE_REPLAY_PROTECTION or REQUIRE_CONFIDENTIALITY on an existing
// record (spec.md §4.5's flag-stability invariant).
func (s *Store) checkFlagStability(key string, flags kvstore.Flags) error {
	info, err := s.underlying.GetInfo(key)
	if kvstore.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Flags.Has(kvstore.RequireReplayProtection) && !flags.Has(kvstore.RequireReplayProtection) {
		return kvstore.NewError("set", key, kvstore.InvalidArgument, nil)
	}
	if info.Flags.Has(kvstore.RequireConfidentiality) && !flags.Has(kvstore.RequireConfidentiality) {
		return kvstore.NewError("set", key, kvstore.InvalidArgument, nil)
	}
	return nil
}

// seal builds the on-flash record bytes (metadata || ciphertext || cmac)
// and returns the cmac tag separately for RP-token pinning.
func (s *Store) seal(key string, data []byte, flags kvstore.Flags) (rec []byte, tag []byte, err error) {
	var nonce [nonceSize]byte
	if err := s.keys.FillRandom(nonce[:]); err != nil {
		return nil, nil, err
	}

	ciphertext := make([]byte, len(data))
	if flags.Has(kvstore.RequireConfidentiality) {
		var encKey [derivedKeySize]byte
		if err := s.keys.GenerateDerivedKey(encKeySalt(key), encKey[:]); err != nil {
			return nil, nil, err
		}
		stream, err := cmaccrypto.NewCTRStream(encKey[:], nonce[:])
		if err != nil {
			return nil, nil, err
		}
		stream.XORKeyStream(ciphertext, data)
	} else {
		copy(ciphertext, data)
	}

	meta := recordMeta{
		metaSize:    uint16(metaSize),
		revision:    metaRevision,
		dataSize:    uint32(len(data)),
		createFlags: uint32(flags),
		nonce:       nonce,
	}
	metaBytes := encodeMeta(meta)

	var authKey [derivedKeySize]byte
	if err := s.keys.GenerateDerivedKey(authKeySalt(key), authKey[:]); err != nil {
		return nil, nil, err
	}
	msg := make([]byte, 0, len(key)+len(metaBytes)+len(ciphertext))
	msg = append(msg, key...)
	msg = append(msg, metaBytes...)
	msg = append(msg, ciphertext...)
	tag, err = cmaccrypto.CMAC(authKey[:], msg)
	if err != nil {
		return nil, nil, err
	}

	rec = make([]byte, 0, len(metaBytes)+len(ciphertext)+cmacSize)
	rec = append(rec, metaBytes...)
	rec = append(rec, ciphertext...)
	rec = append(rec, tag...)
	return rec, tag, nil
}

// verifyRecord reads key's sealed record through a bounded scratch buffer,
// folding the ciphertext into a running CMAC exactly as seal produced it,
// and checks the resulting tag and any rollback-protection token. It never
// holds more than streamChunkSize bytes of the record in RAM at once and
// never decrypts; GetInfo needs nothing past this, and Get runs it before
// its own decrypting pass so no unauthenticated plaintext is ever released.
func (s *Store) verifyRecord(key string) (recordMeta, uint32, error) {
	var metaBuf [metaSize]byte
	n, total, err := s.underlying.Get(key, metaBuf[:], 0)
	if err != nil {
		return recordMeta{}, 0, err
	}
	if n < metaSize || total < metaSize+cmacSize {
		return recordMeta{}, 0, kvstore.NewError("get", key, kvstore.DataCorrupt, nil)
	}
	meta := decodeMeta(metaBuf[:])
	flags := kvstore.Flags(meta.createFlags)

	var authKey [derivedKeySize]byte
	if err := s.keys.GenerateDerivedKey(authKeySalt(key), authKey[:]); err != nil {
		return recordMeta{}, 0, err
	}
	mac, err := cmaccrypto.NewMac(authKey[:])
	if err != nil {
		return recordMeta{}, 0, err
	}
	mac.Write([]byte(key))
	mac.Write(metaBuf[:])

	var scratch [streamChunkSize]byte
	cipherEnd := total - cmacSize
	for pos := uint32(metaSize); pos < cipherEnd; {
		want := cipherEnd - pos
		if want > streamChunkSize {
			want = streamChunkSize
		}
		nread, _, err := s.underlying.Get(key, scratch[:want], pos)
		if err != nil {
			return recordMeta{}, 0, err
		}
		mac.Write(scratch[:nread])
		pos += uint32(nread)
	}

	var tagBuf [cmacSize]byte
	if _, _, err := s.underlying.Get(key, tagBuf[:], cipherEnd); err != nil {
		return recordMeta{}, 0, err
	}
	if subtle.ConstantTimeCompare(mac.Sum(), tagBuf[:]) != 1 {
		return recordMeta{}, 0, kvstore.NewError("get", key, kvstore.AuthenticationFailed, nil)
	}

	if flags.Has(kvstore.RequireReplayProtection) {
		stored, err := s.readRPToken(key)
		if err != nil {
			return recordMeta{}, 0, kvstore.NewError("get", key, kvstore.RBPAuthenticationFailed, err)
		}
		if len(stored) != cmacSize || subtle.ConstantTimeCompare(stored, tagBuf[:]) != 1 {
			return recordMeta{}, 0, kvstore.NewError("get", key, kvstore.RBPAuthenticationFailed, nil)
		}
	} else if s.rbp != nil {
		// A record not marked RP whose key nevertheless has a token on
		// file defends against rollback-via-removal (spec.md §4.5).
		if _, err := s.readRPToken(key); err == nil {
			return recordMeta{}, 0, kvstore.NewError("get", key, kvstore.RBPAuthenticationFailed, nil)
		}
	}
	return meta, total, nil
}

// Get decrypts and verifies key's record, copying up to len(buf) bytes of
// plaintext starting at offset into buf. Ciphertext is read and decrypted
// through a bounded scratch buffer rather than all at once; AES-CTR's
// keystream is positional, so every chunk up to offset is still decrypted
// (and discarded) even when the caller only wants a later window.
func (s *Store) Get(key string, buf []byte, offset uint32) (int, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := kvstore.ValidateKey(key); err != nil {
		return 0, 0, err
	}
	meta, _, err := s.verifyRecord(key)
	if err != nil {
		return 0, 0, err
	}
	flags := kvstore.Flags(meta.createFlags)
	if offset > meta.dataSize {
		return 0, meta.dataSize, kvstore.NewError("get", key, kvstore.InvalidArgument, nil)
	}
	wantEnd := offset + uint32(len(buf))
	if wantEnd > meta.dataSize {
		wantEnd = meta.dataSize
	}

	if !flags.Has(kvstore.RequireConfidentiality) {
		n, _, err := s.underlying.Get(key, buf[:wantEnd-offset], metaSize+offset)
		if err != nil {
			return 0, 0, err
		}
		return n, meta.dataSize, nil
	}

	var encKey [derivedKeySize]byte
	if err := s.keys.GenerateDerivedKey(encKeySalt(key), encKey[:]); err != nil {
		return 0, 0, err
	}
	stream, err := cmaccrypto.NewCTRStream(encKey[:], meta.nonce[:])
	if err != nil {
		return 0, 0, err
	}

	var scratch, plain [streamChunkSize]byte
	copied := 0
	for pos := uint32(0); pos < meta.dataSize; {
		want := meta.dataSize - pos
		if want > streamChunkSize {
			want = streamChunkSize
		}
		n, _, err := s.underlying.Get(key, scratch[:want], metaSize+pos)
		if err != nil {
			return 0, 0, err
		}
		stream.XORKeyStream(plain[:n], scratch[:n])

		// Intersect [pos, pos+n) with the caller's requested [offset, wantEnd).
		lo, hi := pos, pos+uint32(n)
		if lo < offset {
			lo = offset
		}
		if hi > wantEnd {
			hi = wantEnd
		}
		if lo < hi {
			copied += copy(buf[lo-offset:], plain[lo-pos:hi-pos])
		}
		pos += uint32(n)
	}
	return copied, meta.dataSize, nil
}

// GetInfo returns key's plaintext size and the flags it was created with.
func (s *Store) GetInfo(key string) (kvstore.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := kvstore.ValidateKey(key); err != nil {
		return kvstore.Info{}, err
	}
	meta, _, err := s.verifyRecord(key)
	if err != nil {
		return kvstore.Info{}, err
	}
	return kvstore.Info{Size: meta.dataSize, Flags: kvstore.Flags(meta.createFlags)}, nil
}

// Remove tombstones key in the underlying store and, if no factory backup
// is retaining it, frees its rollback-protection token.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := kvstore.ValidateKey(key); err != nil {
		return err
	}
	info, err := s.underlying.GetInfo(key)
	if err != nil {
		return err
	}
	// Ask about a backup before removing: afterwards the key is gone from
	// the underlying index and HasBackup can only report NotFound.
	keepToken := false
	if info.Flags.Has(kvstore.RequireReplayProtection) {
		if ba, ok := s.underlying.(backupAware); ok {
			if hasBackup, err := ba.HasBackup(key); err == nil {
				keepToken = hasBackup
			}
		}
	}
	if err := s.underlying.Remove(key); err != nil {
		return err
	}
	if info.Flags.Has(kvstore.RequireReplayProtection) {
		if !keepToken {
			if err := s.freeRPToken(key); err != nil {
				return kvstore.NewError("remove", key, kvstore.WriteError, err)
			}
		}
	}
	return nil
}

// IteratorOpen delegates directly to the underlying store: SecureStore
// never encrypts key names, only values.
func (s *Store) IteratorOpen(prefix string) (kvstore.Iterator, error) {
	return s.underlying.IteratorOpen(prefix)
}
