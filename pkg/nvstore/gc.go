package nvstore

// gc compacts live records into the standby area in RAM-table order, writes
// a new master record with version+1, swaps active, then erases the old
// area (spec.md §4.3). factoryReset is accepted for symmetry with
// TDBStore's GC signature even though NVStore has no backup-record concept
// to preserve; it is always false in this package's own callers.
func (s *Store) gc(factoryReset bool) error {
	standby := 1 - s.active
	standbyArea := s.geom.Areas[standby]

	if err := s.bd.Erase(standbyArea.Offset, standbyArea.Size); err != nil {
		return ErrWriteError
	}

	newVersion := s.version + 1
	masterPayload := encodeMasterPayload(newVersion)
	mh := header{key: MasterKey, size: masterPayloadSize}
	mh.crc = computeCRC(mh, masterPayload)
	masterRec := append(encodeHeader(mh), masterPayload...)

	offset := alignUp(headerSize+masterPayloadSize, s.programSize)
	oldAreaOffset := s.geom.Areas[s.active].Offset

	for i := range s.index {
		e := &s.index[i]
		if !e.allocated || !e.hasRecord {
			continue
		}
		hdrBuf := make([]byte, headerSize)
		if err := s.bd.Read(oldAreaOffset+e.offset, hdrBuf); err != nil {
			return ErrReadError
		}
		h := decodeHeader(hdrBuf)
		rec := make([]byte, headerSize+int(h.size))
		copy(rec, hdrBuf)
		if h.size > 0 {
			if err := s.bd.Read(oldAreaOffset+e.offset+headerSize, rec[headerSize:]); err != nil {
				return ErrReadError
			}
		}
		if err := s.programRetrying(standbyArea.Offset+offset, rec); err != nil {
			return ErrWriteError
		}
		e.offset = offset
		offset += alignUp(uint32(len(rec)), s.programSize)
	}

	// The master record goes in last, so the standby area only becomes a
	// valid (newer) area once every live record has been copied into it.
	if err := s.programRetrying(standbyArea.Offset, masterRec); err != nil {
		return ErrWriteError
	}

	oldArea := s.geom.Areas[s.active]
	s.active = standby
	s.version = newVersion
	s.freeOffset = offset

	// Only the first erase unit needs erasing: it holds the old area's
	// master record, and invalidating that is all recovery needs to treat
	// the area as stale. A crash before this erase simply replays recovery
	// with the higher-version (new) area winning (spec.md §4.4).
	firstUnit := s.bd.EraseSize(oldArea.Offset)
	if err := s.bd.Erase(oldArea.Offset, firstUnit); err != nil {
		return ErrWriteError
	}
	s.logger.Debug("nvstore: gc complete", "new_version", newVersion, "active_area", s.active)
	return nil
}
