package nvstore

// readMaster reads and validates the master record of area i, returning its
// version and whether it validated.
func (s *Store) readMaster(area int) (uint16, bool) {
	off := s.geom.Areas[area].Offset
	hdrBuf := make([]byte, headerSize)
	if err := s.bd.Read(off, hdrBuf); err != nil {
		return 0, false
	}
	h := decodeHeader(hdrBuf)
	if h.key != MasterKey {
		return 0, false
	}
	payload := make([]byte, masterPayloadSize)
	if err := s.bd.Read(off+headerSize, payload); err != nil {
		return 0, false
	}
	if computeCRC(h, payload) != h.crc {
		return 0, false
	}
	version, _ := decodeMasterPayload(payload)
	return version, true
}

// formatArea erases area i and writes a fresh master record with the given
// version.
func (s *Store) formatArea(area int, version uint16) error {
	a := s.geom.Areas[area]
	if err := s.bd.Erase(a.Offset, a.Size); err != nil {
		return ErrWriteError
	}
	payload := encodeMasterPayload(version)
	h := header{key: MasterKey, flags: 0, size: masterPayloadSize, owner: 0}
	h.crc = computeCRC(h, payload)
	rec := append(encodeHeader(h), payload...)
	if err := s.programRetrying(a.Offset, rec); err != nil {
		return ErrWriteError
	}
	return nil
}

// scanActiveArea walks records from just past the master record, building
// the RAM index. It returns an error if a torn (CRC-invalid) record is
// found before the blank tail, so the caller can trigger recovery GC.
func (s *Store) scanActiveArea() error {
	base := s.geom.Areas[s.active].Offset
	size := s.geom.Areas[s.active].Size
	offset := alignUp(headerSize+masterPayloadSize, s.programSize)

	for offset+headerSize <= size {
		hdrBuf := make([]byte, headerSize)
		if err := s.bd.Read(base+offset, hdrBuf); err != nil {
			return err
		}
		if isBlank(hdrBuf[0:2], s.eraseValue) {
			s.freeOffset = offset
			return nil
		}
		h := decodeHeader(hdrBuf)
		payload := make([]byte, 0)
		if h.size > 0 {
			payload = make([]byte, h.size)
			if err := s.bd.Read(base+offset+headerSize, payload); err != nil {
				return err
			}
		}
		if computeCRC(h, payload) != h.crc {
			return errTornRecord
		}
		if int(h.key) < len(s.index) {
			e := &s.index[h.key]
			if h.flags&flagDeleted != 0 {
				*e = entry{}
			} else {
				e.allocated = true
				e.hasRecord = true
				e.setOnce = h.flags&flagSetOnce != 0
				e.owner = h.owner
				e.size = h.size
				e.offset = offset
			}
		}
		offset += alignUp(headerSize+uint32(h.size), s.programSize)
	}
	s.freeOffset = offset
	return nil
}

var errTornRecord = &scanError{"nvstore: torn record during scan"}

type scanError struct{ msg string }

func (e *scanError) Error() string { return e.msg }
