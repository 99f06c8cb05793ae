package tdbstore

import "github.com/brennawood/fkv/pkg/kvstore"

// gc compacts live records into the standby area and swaps active, per
// spec.md §4.4. It is two-pass to preserve factory-reset backup records:
// pass 1 copies every record carrying flagBackup (update_backup) first;
// pass 2 copies the remaining live records, and is skipped entirely when
// factoryReset is true — which is exactly what restores the device to its
// last backup image.
func (s *Store) gc(factoryReset bool) error {
	standby := 1 - s.active
	standbyArea := s.geom.Areas[standby]

	if err := s.bd.Erase(standbyArea.Offset, standbyArea.Size); err != nil {
		return kvstore.NewError("gc", "", kvstore.WriteError, err)
	}

	newVersion := s.version + 1
	masterPayload := encodeMasterPayload(newVersion)
	masterKeyBytes := []byte(masterKeyName)
	mh := header{
		magic:      masterMagic,
		headerSize: headerSize,
		revision:   currentRevision,
		keySize:    uint16(len(masterKeyBytes)),
		dataSize:   uint32(len(masterPayload)),
	}
	mh.crc = recordCRC(mh, masterKeyBytes, masterPayload)
	masterRec := buildRecordBytes(mh, masterKeyBytes, masterPayload, s.programSize)

	offset := alignUp(uint32(len(masterRec)), s.programSize)
	oldAreaOffset := s.geom.Areas[s.active].Offset
	newIndex := make([]indexEntry, 0, len(s.index))

	copyEntry := func(e indexEntry) error {
		hdrBuf := make([]byte, headerSize)
		if err := s.bd.Read(oldAreaOffset+e.offset(), hdrBuf); err != nil {
			return err
		}
		h := decodeHeader(hdrBuf)
		recLen := headerSize + uint32(h.keySize) + h.dataLen()
		rec := make([]byte, recLen)
		copy(rec, hdrBuf)
		if recLen > headerSize {
			if err := s.bd.Read(oldAreaOffset+e.offset()+headerSize, rec[headerSize:]); err != nil {
				return err
			}
		}
		aligned := alignUp(recLen, s.programSize)
		padded := make([]byte, aligned)
		copy(padded, rec)
		for i := recLen; i < aligned; i++ {
			padded[i] = padByte
		}
		if err := s.programRetrying(standbyArea.Offset+offset, padded); err != nil {
			return err
		}
		newEntry := e
		newEntry.setOffset(offset)
		newIndex = append(newIndex, newEntry)
		offset += aligned
		return nil
	}

	// Pass 1: backup-flagged records.
	for _, e := range s.index {
		if e.flags()&flagHasBackup != 0 {
			if err := copyEntry(e); err != nil {
				return kvstore.NewError("gc", "", kvstore.ReadError, err)
			}
		}
	}
	// Pass 2: everything else, unless this is a factory-reset GC.
	if !factoryReset {
		for _, e := range s.index {
			if e.flags()&flagHasBackup == 0 {
				if err := copyEntry(e); err != nil {
					return kvstore.NewError("gc", "", kvstore.ReadError, err)
				}
			}
		}
	}

	// The master record goes in last, so the standby area only becomes a
	// valid (newer) area once every copied record is in place.
	if err := s.programRetrying(standbyArea.Offset, masterRec); err != nil {
		return kvstore.NewError("gc", "", kvstore.WriteError, err)
	}

	oldArea := s.geom.Areas[s.active]
	s.active = standby
	s.version = newVersion
	s.freeOffset = offset
	s.index = newIndex

	// Only the first erase unit needs erasing: it holds the old area's
	// master record, and invalidating that is all recovery needs to treat
	// the area as stale. A crash before this erase simply replays recovery
	// with the higher-version (new) area winning (spec.md §4.4).
	firstUnit := s.bd.EraseSize(oldArea.Offset)
	if err := s.bd.Erase(oldArea.Offset, firstUnit); err != nil {
		return kvstore.NewError("gc", "", kvstore.WriteError, err)
	}
	s.logger.Debug("tdbstore: gc complete", "new_version", newVersion, "active_area", s.active)
	return nil
}
