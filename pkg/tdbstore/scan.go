package tdbstore

import "github.com/brennawood/fkv/pkg/kvstore"

// readMaster reads and validates the master record of area i.
func (s *Store) readMaster(area int) (uint16, bool) {
	off := s.geom.Areas[area].Offset
	hdrBuf := make([]byte, headerSize)
	if err := s.bd.Read(off, hdrBuf); err != nil {
		return 0, false
	}
	h := decodeHeader(hdrBuf)
	if h.magic != masterMagic {
		return 0, false
	}
	keyBuf := make([]byte, h.keySize)
	if h.keySize > 0 {
		if err := s.bd.Read(off+headerSize, keyBuf); err != nil {
			return 0, false
		}
	}
	payload := make([]byte, h.dataLen())
	if h.dataLen() > 0 {
		if err := s.bd.Read(off+headerSize+uint32(h.keySize), payload); err != nil {
			return 0, false
		}
	}
	if recordCRC(h, keyBuf, payload) != h.crc {
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
		return kvstore.NewError("init", "", kvstore.WriteError, err)
	}
	payload := encodeMasterPayload(version)
	key := []byte(masterKeyName)
	h := header{
		magic:      masterMagic,
		headerSize: headerSize,
		revision:   currentRevision,
		keySize:    uint16(len(key)),
		dataSize:   uint32(len(payload)),
	}
	h.crc = recordCRC(h, key, payload)
	rec := buildRecordBytes(h, key, payload, s.programSize)
	if err := s.programRetrying(a.Offset, rec); err != nil {
		return kvstore.NewError("init", "", kvstore.WriteError, err)
	}
	return nil
}

// buildRecordBytes assembles header+key+data and pads the result up to
// program-granularity with padByte (spec.md §3.1's non-erase-value
// sentinel padding).
func buildRecordBytes(h header, key, data []byte, programSize uint32) []byte {
	rec := make([]byte, 0, headerSize+len(key)+len(data))
	rec = append(rec, encodeHeader(h)...)
	rec = append(rec, key...)
	rec = append(rec, data...)
	aligned := alignUp(uint32(len(rec)), programSize)
	for uint32(len(rec)) < aligned {
		rec = append(rec, padByte)
	}
	return rec
}

// scanActiveArea walks records from just past the master record, building
// the RAM index. It returns an error if a torn (CRC-invalid) record is
// found before the blank tail.
func (s *Store) scanActiveArea() error {
	base := s.geom.Areas[s.active].Offset
	size := s.geom.Areas[s.active].Size

	masterHdr := make([]byte, headerSize)
	if err := s.bd.Read(base, masterHdr); err != nil {
		return err
	}
	mh := decodeHeader(masterHdr)
	offset := alignUp(headerSize+uint32(mh.keySize)+mh.dataLen(), s.programSize)

	s.index = s.index[:0]
	for offset+headerSize <= size {
		hdrBuf := make([]byte, headerSize)
		if err := s.bd.Read(base+offset, hdrBuf); err != nil {
			return err
		}
		if isBlank(hdrBuf[0:4], s.eraseValue) {
			s.freeOffset = offset
			return nil
		}
		h := decodeHeader(hdrBuf)
		keyBuf := make([]byte, h.keySize)
		if h.keySize > 0 {
			if err := s.bd.Read(base+offset+headerSize, keyBuf); err != nil {
				return err
			}
		}
		payload := make([]byte, 0)
		if h.dataLen() > 0 {
			payload = make([]byte, h.dataLen())
			if err := s.bd.Read(base+offset+headerSize+uint32(h.keySize), payload); err != nil {
				return err
			}
		}
		if recordCRC(h, keyBuf, payload) != h.crc {
			return errTornRecord
		}

		key := string(keyBuf)
		idx, err := s.findIndex(key)
		if err != nil {
			return err
		}
		if h.flags&flagDelete != 0 {
			if idx >= 0 {
				s.removeFromIndex(idx)
			}
		} else {
			var ef entryFlags
			if h.flags&flagBackup != 0 {
				ef |= flagHasBackup
			}
			if h.flags&flagIsBackup != 0 {
				ef |= flagEntryIsBackup
			}
			if kvstore.Flags(h.flags).Has(kvstore.RequireReplayProtection) {
				ef |= flagRBProtect
			}
			entry := newIndexEntry(hashKey(key), offset, ef)
			if idx >= 0 {
				s.index[idx] = entry
			} else {
				s.index = append(s.index, entry)
			}
		}
		offset += alignUp(headerSize+uint32(h.keySize)+h.dataLen(), s.programSize)
	}
	s.freeOffset = offset
	return nil
}

var errTornRecord = &storeErr{"tdbstore: torn record during scan"}
