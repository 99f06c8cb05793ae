package securestore

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/brennawood/fkv/pkg/nvstore"
)

// backupAware is implemented by underlying stores (TDBStore) that can
// report whether a key's current record is a factory-reset backup; used to
// decide whether Remove may free the key's rollback-protection token.
type backupAware interface {
	HasBackup(key string) (bool, error)
}

// rpSlot deterministically maps a SecureStore key name onto an NVStore key
// slot in the RP store. Spec.md §4.5 describes RP-token keys as "allocated
// on demand via allocate_key"; this module content-addresses the slot from
// the key name's hash instead of maintaining a separate persisted
// name->slot registry, so the token for a given key can always be
// recomputed without reading any extra state (and therefore needs no
// rollback protection of its own). See DESIGN.md for the tradeoff.
func rpSlot(maxKeys int, key string) uint16 {
	sum := sha256.Sum256([]byte(key))
	h := binary.LittleEndian.Uint32(sum[0:4])
	return uint16(int(h) % maxKeys)
}

// writeRPToken persists tag under key's deterministic RP slot. If
// writeOnce is set the token is written with SetOnce so an attacker cannot
// defeat write-once protection by rewriting only the underlying record
// (spec.md §4.5: WRITE_ONCE is "mirrored in the RP KV").
func (s *Store) writeRPToken(key string, tag []byte, writeOnce bool) error {
	if s.rbp == nil {
		return errNoRBPStore
	}
	slot := rpSlot(s.rbp.GetMaxKeys(), key)
	if writeOnce {
		return s.rbp.SetOnce(slot, tag)
	}
	return s.rbp.Set(slot, tag)
}

// readRPToken reads key's RP token, if any.
func (s *Store) readRPToken(key string) ([]byte, error) {
	if s.rbp == nil {
		return nil, errNoRBPStore
	}
	slot := rpSlot(s.rbp.GetMaxKeys(), key)
	buf := make([]byte, cmacSize)
	n, err := s.rbp.Get(slot, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// freeRPToken removes key's RP token, tolerating an already-absent token.
func (s *Store) freeRPToken(key string) error {
	if s.rbp == nil {
		return nil
	}
	slot := rpSlot(s.rbp.GetMaxKeys(), key)
	err := s.rbp.Remove(slot)
	if err == nvstore.ErrNotFound {
		return nil
	}
	return err
}
