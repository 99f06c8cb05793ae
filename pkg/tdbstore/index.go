package tdbstore

// entryFlags are the bits the RAM table steals from the low end of each
// entry's packed offset word (spec.md §3.2): has_backup, is_backup,
// rb_protect, delete. REDESIGN FLAGS calls for keeping this packing for
// memory efficiency but exposing it through an explicit struct rather than
// pointer-cast tricks, hence indexEntry's offset()/flags() accessors below
// instead of raw bit-twiddling at call sites.
type entryFlags uint8

const (
	flagHasBackup entryFlags = 1 << 0
	flagEntryIsBackup entryFlags = 1 << 1
	flagRBProtect entryFlags = 1 << 2
	flagDeleteBit entryFlags = 1 << 3
)

// indexEntry is one RAM-table row: a 32-bit key-hash plus an offset with
// its low 4 bits stealing entryFlags.
type indexEntry struct {
	hash   uint32
	packed uint32
}

func newIndexEntry(hash, offset uint32, flags entryFlags) indexEntry {
	return indexEntry{hash: hash, packed: (offset << 4) | uint32(flags&0xF)}
}

func (e indexEntry) offset() uint32    { return e.packed >> 4 }
func (e indexEntry) flags() entryFlags { return entryFlags(e.packed & 0xF) }

func (e *indexEntry) setOffset(o uint32) { e.packed = (o << 4) | (e.packed & 0xF) }
func (e *indexEntry) setFlags(f entryFlags) {
	e.packed = (e.packed &^ 0xF) | uint32(f&0xF)
}

// findIndex returns the slice index of the live entry whose on-flash key
// (read from the active area at its offset) matches key, confirming past
// the hash match by comparing key bytes exactly, per spec.md §3.2's lookup
// recipe: "compute hash, linear scan for matching hash, confirm by reading
// record header and comparing key bytes".
func (s *Store) findIndex(key string) (int, error) {
	h := hashKey(key)
	for i := range s.index {
		if s.index[i].hash != h {
			continue
		}
		ok, err := s.keyMatchesAt(s.index[i].offset(), key)
		if err != nil {
			return -1, err
		}
		if ok {
			return i, nil
		}
	}
	return -1, nil
}

func (s *Store) keyMatchesAt(offset uint32, key string) (bool, error) {
	base := s.geom.Areas[s.active].Offset
	hdrBuf := make([]byte, headerSize)
	if err := s.bd.Read(base+offset, hdrBuf); err != nil {
		return false, err
	}
	h := decodeHeader(hdrBuf)
	if int(h.keySize) != len(key) {
		return false, nil
	}
	keyBuf := make([]byte, h.keySize)
	if h.keySize > 0 {
		if err := s.bd.Read(base+offset+headerSize, keyBuf); err != nil {
			return false, err
		}
	}
	return string(keyBuf) == key, nil
}

func (s *Store) removeFromIndex(i int) {
	s.index = append(s.index[:i], s.index[i+1:]...)
}
