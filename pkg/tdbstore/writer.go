package tdbstore

import (
	"github.com/brennawood/fkv/internal/crc32mpeg"
	"github.com/brennawood/fkv/pkg/kvstore"
)

// writer is the streaming SetStart/Add/Finalize handle. It holds the
// store's lock for its entire lifetime (spec.md §5: "set_start holds the
// lock until set_finalize"), writing the header immediately (with a
// placeholder CRC) and each payload chunk as it arrives, then patching only
// the header's CRC field in place at Finalize via the page-buffering
// adapter — the one sub-header rewrite spec.md §4.4 calls out explicitly.
type writer struct {
	s    *Store
	key  string
	flags kvstore.Flags
	internalFlags uint32

	finalSize  uint32
	written    uint32
	addr       uint32 // base address of this record
	payloadAddr uint32

	crc     uint32
	keyBytes []byte
	aborted  bool
	done     bool
}

// SetStart begins a streaming write of finalSize bytes under key. The
// returned Writer must be driven to Finalize or Abort before any other
// Store method may proceed.
func (s *Store) SetStart(key string, finalSize uint32, flags kvstore.Flags) (kvstore.Writer, error) {
	s.mu.Lock()
	// On success the lock stays held until Finalize or Abort releases it.
	started := false
	defer func() {
		if !started {
			s.mu.Unlock()
		}
	}()
	if err := s.checkReady("set_start", key); err != nil {
		return nil, err
	}
	if err := kvstore.ValidateKey(key); err != nil {
		return nil, err
	}
	if err := kvstore.ValidateFlags(flags); err != nil {
		return nil, err
	}
	if finalSize > MaxDataSize {
		return nil, kvstore.NewError("set_start", key, kvstore.InvalidArgument, nil)
	}

	idx, err := s.findIndex(key)
	if err != nil {
		return nil, kvstore.NewError("set_start", key, kvstore.ReadError, err)
	}
	if idx >= 0 {
		existingFlags, err := s.readExternalFlags(s.index[idx].offset())
		if err != nil {
			return nil, kvstore.NewError("set_start", key, kvstore.ReadError, err)
		}
		if existingFlags.Has(kvstore.WriteOnce) {
			return nil, kvstore.NewError("set_start", key, kvstore.WriteProtected, nil)
		}
	}

	keyBytes := []byte(key)
	h := header{
		magic:      magicValue,
		headerSize: headerSize,
		revision:   currentRevision,
		flags:      uint32(flags),
		keySize:    uint16(len(keyBytes)),
		dataSize:   finalSize,
	}
	recLen := headerSize + uint32(len(keyBytes)) + finalSize
	aligned := alignUp(recLen, s.programSize)

	if s.freeOffset+aligned > s.areaSize() {
		if err := s.gc(false); err != nil {
			return nil, err
		}
		if s.freeOffset+aligned > s.areaSize() {
			return nil, kvstore.NewError("set_start", key, kvstore.MediaFull, nil)
		}
	}

	addr := s.areaOffset() + s.freeOffset
	hdrBytes := encodeHeader(h) // crc field still zero
	// The CRC field is deliberately left unprogrammed (still at the
	// device's erase value) here: flash program can only clear bits, so
	// writing zero bytes now would make it impossible to patch in the
	// real CRC once the payload is known (Finalize).
	if err := s.programRetrying(addr, hdrBytes[:headerSize-4]); err != nil {
		return nil, kvstore.NewError("set_start", key, kvstore.WriteError, err)
	}
	if len(keyBytes) > 0 {
		if err := s.programRetrying(addr+headerSize, keyBytes); err != nil {
			return nil, kvstore.NewError("set_start", key, kvstore.WriteError, err)
		}
	}

	crc := newCRCState()
	crc = crc32mpeg.Update(crc, hdrBytes[:headerSize-4])
	crc = crc32mpeg.Update(crc, keyBytes)

	w := &writer{
		s:             s,
		key:           key,
		flags:         flags,
		internalFlags: uint32(flags),
		finalSize:     finalSize,
		addr:          addr,
		payloadAddr:   addr + headerSize + uint32(len(keyBytes)),
		crc:           crc,
		keyBytes:      keyBytes,
	}
	s.activeWriter = w
	s.freeOffset += aligned
	started = true
	return w, nil
}

// Add streams the next chunk of payload, per kvstore.Writer.
func (w *writer) Add(data []byte) error {
	if w.done || w.aborted {
		return kvstore.NewError("set_add_data", w.key, kvstore.InvalidArgument, nil)
	}
	if w.written+uint32(len(data)) > w.finalSize {
		return kvstore.NewError("set_add_data", w.key, kvstore.InvalidArgument, nil)
	}
	if len(data) > 0 {
		if err := w.s.programRetrying(w.payloadAddr+w.written, data); err != nil {
			return kvstore.NewError("set_add_data", w.key, kvstore.WriteError, err)
		}
		w.crc = crc32mpeg.Update(w.crc, data)
		w.written += uint32(len(data))
	}
	return nil
}

// Finalize patches the header CRC in place and releases the store's lock.
func (w *writer) Finalize() error {
	s := w.s
	defer func() {
		s.activeWriter = nil
		s.mu.Unlock()
	}()
	if w.done || w.aborted {
		return kvstore.NewError("set_finalize", w.key, kvstore.InvalidArgument, nil)
	}
	if w.written != w.finalSize {
		return kvstore.NewError("set_finalize", w.key, kvstore.InvalidArgument, nil)
	}
	w.done = true

	crcBuf := make([]byte, 4)
	crcBuf[0] = byte(w.crc)
	crcBuf[1] = byte(w.crc >> 8)
	crcBuf[2] = byte(w.crc >> 16)
	crcBuf[3] = byte(w.crc >> 24)
	// Patch only the header's CRC field, at offset headerSize-4, via the
	// page-buffering adapter so a sub-page patch coalesces correctly on
	// devices whose program granularity exceeds the header.
	if err := s.page.WriteAt(w.addr+headerSize-4, crcBuf); err != nil {
		return kvstore.NewError("set_finalize", w.key, kvstore.WriteError, err)
	}
	if err := s.page.Flush(); err != nil {
		return kvstore.NewError("set_finalize", w.key, kvstore.WriteError, err)
	}
	if err := s.bd.Sync(); err != nil {
		return kvstore.NewError("set_finalize", w.key, kvstore.WriteError, err)
	}

	var ef entryFlags
	if w.flags.Has(kvstore.RequireReplayProtection) {
		ef |= flagRBProtect
	}
	recOffset := w.addr - s.geom.Areas[s.active].Offset
	entry := newIndexEntry(hashKey(w.key), recOffset, ef)
	idx, err := s.findIndex(w.key)
	if err == nil && idx >= 0 {
		s.index[idx] = entry
	} else {
		s.index = append(s.index, entry)
	}
	return nil
}

// Abort releases the store's lock, leaving the partial record on flash but
// permanently invisible since its header CRC never verifies.
func (w *writer) Abort() error {
	s := w.s
	defer func() {
		s.activeWriter = nil
		s.mu.Unlock()
	}()
	w.aborted = true
	return nil
}
