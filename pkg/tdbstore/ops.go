package tdbstore

import "github.com/brennawood/fkv/pkg/kvstore"

func (s *Store) checkReady(op, key string) error {
	if !s.initialized {
		return kvstore.NewError(op, key, kvstore.NotReady, nil)
	}
	if s.activeWriter != nil {
		return kvstore.NewError(op, key, kvstore.NotReady, errWriterActive)
	}
	return nil
}

var errWriterActive = &storeErr{"tdbstore: a streaming writer is in progress"}

// Set writes data under key in a single call; flags must be a subset of
// kvstore's user-visible mask. Overwriting a WRITE_ONCE key fails with
// WriteProtected and leaves the existing value intact.
func (s *Store) Set(key string, data []byte, flags kvstore.Flags) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady("set", key); err != nil {
		return err
	}
	if err := kvstore.ValidateKey(key); err != nil {
		return err
	}
	if err := kvstore.ValidateFlags(flags); err != nil {
		return err
	}
	if len(data) > MaxDataSize {
		return kvstore.NewError("set", key, kvstore.InvalidArgument, nil)
	}

	idx, err := s.findIndex(key)
	if err != nil {
		return kvstore.NewError("set", key, kvstore.ReadError, err)
	}
	if idx >= 0 {
		existingFlags, err := s.readExternalFlags(s.index[idx].offset())
		if err != nil {
			return kvstore.NewError("set", key, kvstore.ReadError, err)
		}
		if existingFlags.Has(kvstore.WriteOnce) {
			return kvstore.NewError("set", key, kvstore.WriteProtected, nil)
		}
	}

	if err := s.appendRecord(key, data, flags, 0); err != nil {
		return err
	}
	return nil
}

func (s *Store) readExternalFlags(offset uint32) (kvstore.Flags, error) {
	base := s.geom.Areas[s.active].Offset
	hdrBuf := make([]byte, headerSize)
	if err := s.bd.Read(base+offset, hdrBuf); err != nil {
		return 0, err
	}
	return decodeHeader(hdrBuf).externalFlags(), nil
}

// appendRecord writes a complete record (header+key+data), running GC if
// necessary, and updates the RAM index. internalFlags carries the
// tdbstore-only bits (flagDelete, flagBackup, flagIsBackup); userFlags
// carries the caller-visible kvstore.Flags mirrored into the high bits.
func (s *Store) appendRecord(key string, data []byte, userFlags kvstore.Flags, internalFlags uint32) error {
	keyBytes := []byte(key)
	h := header{
		magic:      magicValue,
		headerSize: headerSize,
		revision:   currentRevision,
		flags:      internalFlags | uint32(userFlags),
		keySize:    uint16(len(keyBytes)),
		dataSize:   uint32(len(data)),
	}
	h.crc = recordCRC(h, keyBytes, data)
	rec := buildRecordBytes(h, keyBytes, data, s.programSize)
	aligned := uint32(len(rec))

	if s.freeOffset+aligned > s.areaSize() {
		if err := s.gc(false); err != nil {
			return err
		}
		if s.freeOffset+aligned > s.areaSize() {
			return kvstore.NewError("set", key, kvstore.MediaFull, nil)
		}
	}

	addr := s.areaOffset() + s.freeOffset
	if err := s.programRetrying(addr, rec); err != nil {
		return kvstore.NewError("set", key, kvstore.WriteError, err)
	}
	if err := s.bd.Sync(); err != nil {
		return kvstore.NewError("set", key, kvstore.WriteError, err)
	}

	if internalFlags&flagDelete != 0 {
		// A tombstone has nothing live to index; drop the key entirely so
		// Get/GetInfo see it as absent without waiting for the next scan.
		if idx, err := s.findIndex(key); err == nil && idx >= 0 {
			s.removeFromIndex(idx)
		}
		s.freeOffset += aligned
		return nil
	}

	var ef entryFlags
	if internalFlags&flagBackup != 0 {
		ef |= flagHasBackup
	}
	if internalFlags&flagIsBackup != 0 {
		ef |= flagEntryIsBackup
	}
	if userFlags.Has(kvstore.RequireReplayProtection) {
		ef |= flagRBProtect
	}
	entry := newIndexEntry(hashKey(key), s.freeOffset, ef)
	idx, err := s.findIndex(key)
	if err == nil && idx >= 0 {
		// findIndex reads flash, but the old offset still points at the
		// just-superseded record; safe to overwrite in place.
		s.index[idx] = entry
	} else {
		s.index = append(s.index, entry)
	}
	s.freeOffset += aligned
	return nil
}

// Remove tombstones key. WRITE_ONCE keys can never be removed.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady("remove", key); err != nil {
		return err
	}
	if err := kvstore.ValidateKey(key); err != nil {
		return err
	}
	idx, err := s.findIndex(key)
	if err != nil {
		return kvstore.NewError("remove", key, kvstore.ReadError, err)
	}
	if idx < 0 {
		return kvstore.NewError("remove", key, kvstore.NotFound, nil)
	}
	existingFlags, err := s.readExternalFlags(s.index[idx].offset())
	if err != nil {
		return kvstore.NewError("remove", key, kvstore.ReadError, err)
	}
	if existingFlags.Has(kvstore.WriteOnce) {
		return kvstore.NewError("remove", key, kvstore.WriteProtected, nil)
	}

	return s.appendRecord(key, nil, 0, flagDelete)
}

// Get reads up to len(buf) bytes of key's value starting at offset,
// returning the number of bytes copied and the value's total size.
func (s *Store) Get(key string, buf []byte, offset uint32) (int, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady("get", key); err != nil {
		return 0, 0, err
	}
	if err := kvstore.ValidateKey(key); err != nil {
		return 0, 0, err
	}
	idx, err := s.findIndex(key)
	if err != nil {
		return 0, 0, kvstore.NewError("get", key, kvstore.ReadError, err)
	}
	if idx < 0 {
		return 0, 0, kvstore.NewError("get", key, kvstore.NotFound, nil)
	}

	base := s.geom.Areas[s.active].Offset
	recOffset := s.index[idx].offset()
	hdrBuf := make([]byte, headerSize)
	if err := s.bd.Read(base+recOffset, hdrBuf); err != nil {
		return 0, 0, kvstore.NewError("get", key, kvstore.ReadError, err)
	}
	h := decodeHeader(hdrBuf)
	if h.flags&flagDelete != 0 {
		return 0, 0, kvstore.NewError("get", key, kvstore.NotFound, nil)
	}
	total := h.dataLen()

	keyBuf := make([]byte, h.keySize)
	if h.keySize > 0 {
		if err := s.bd.Read(base+recOffset+headerSize, keyBuf); err != nil {
			return 0, 0, kvstore.NewError("get", key, kvstore.ReadError, err)
		}
	}
	payload := make([]byte, total)
	if total > 0 {
		if err := s.bd.Read(base+recOffset+headerSize+uint32(h.keySize), payload); err != nil {
			return 0, 0, kvstore.NewError("get", key, kvstore.ReadError, err)
		}
	}
	if recordCRC(h, keyBuf, payload) != h.crc {
		return 0, 0, kvstore.NewError("get", key, kvstore.DataCorrupt, nil)
	}

	if offset > total {
		return 0, total, kvstore.NewError("get", key, kvstore.InvalidArgument, nil)
	}
	n := copy(buf, payload[offset:])
	return n, total, nil
}

// GetInfo returns key's stored size and flags without copying its payload.
func (s *Store) GetInfo(key string) (kvstore.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkReady("get_info", key); err != nil {
		return kvstore.Info{}, err
	}
	if err := kvstore.ValidateKey(key); err != nil {
		return kvstore.Info{}, err
	}
	idx, err := s.findIndex(key)
	if err != nil {
		return kvstore.Info{}, kvstore.NewError("get_info", key, kvstore.ReadError, err)
	}
	if idx < 0 {
		return kvstore.Info{}, kvstore.NewError("get_info", key, kvstore.NotFound, nil)
	}
	base := s.geom.Areas[s.active].Offset
	hdrBuf := make([]byte, headerSize)
	if err := s.bd.Read(base+s.index[idx].offset(), hdrBuf); err != nil {
		return kvstore.Info{}, kvstore.NewError("get_info", key, kvstore.ReadError, err)
	}
	h := decodeHeader(hdrBuf)
	if h.flags&flagDelete != 0 {
		return kvstore.Info{}, kvstore.NewError("get_info", key, kvstore.NotFound, nil)
	}
	return kvstore.Info{Size: h.dataLen(), Flags: h.externalFlags()}, nil
}
