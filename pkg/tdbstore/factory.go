package tdbstore

import "github.com/brennawood/fkv/pkg/kvstore"

// MarkBackup re-appends key's current value with the update_backup flag
// set, so that a later FactoryReset preserves it verbatim even when pass 2
// of GC is skipped. This is the provisioning-time operation that gives a
// key a "factory default" the device can always be restored to.
func (s *Store) MarkBackup(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady("mark_backup", key); err != nil {
		return err
	}
	idx, err := s.findIndex(key)
	if err != nil {
		return kvstore.NewError("mark_backup", key, kvstore.ReadError, err)
	}
	if idx < 0 {
		return kvstore.NewError("mark_backup", key, kvstore.NotFound, nil)
	}

	base := s.geom.Areas[s.active].Offset
	offset := s.index[idx].offset()
	hdrBuf := make([]byte, headerSize)
	if err := s.bd.Read(base+offset, hdrBuf); err != nil {
		return kvstore.NewError("mark_backup", key, kvstore.ReadError, err)
	}
	h := decodeHeader(hdrBuf)
	data := make([]byte, h.dataLen())
	if h.dataLen() > 0 {
		if err := s.bd.Read(base+offset+headerSize+uint32(h.keySize), data); err != nil {
			return kvstore.NewError("mark_backup", key, kvstore.ReadError, err)
		}
	}

	return s.appendRecord(key, data, h.externalFlags(), flagBackup)
}

// HasBackup reports whether key's current record carries the update_backup
// flag, i.e. whether MarkBackup has been called for it since its last
// plain Set. SecureStore uses this to decide whether a rollback-protection
// token can be safely freed on Remove (spec.md §4.5's RP-token lifecycle).
func (s *Store) HasBackup(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady("has_backup", key); err != nil {
		return false, err
	}
	idx, err := s.findIndex(key)
	if err != nil {
		return false, kvstore.NewError("has_backup", key, kvstore.ReadError, err)
	}
	if idx < 0 {
		return false, kvstore.NewError("has_backup", key, kvstore.NotFound, nil)
	}
	return s.index[idx].flags()&flagHasBackup != 0, nil
}

// FactoryReset runs a GC in factory-reset mode: every backup-flagged
// record is preserved, every other live record is dropped, restoring the
// device to its last provisioned backup image (spec.md §4.4).
func (s *Store) FactoryReset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady("factory_reset", ""); err != nil {
		return err
	}
	return s.gc(true)
}
