package tdbstore

import "github.com/brennawood/fkv/pkg/kvstore"

// iterator enumerates live keys matching a prefix. It snapshots the set of
// candidate offsets at IteratorOpen time, so it is safe to run concurrently
// with Get/Set the way spec.md §4.4 requires, at the cost of possibly
// missing or double-visiting a key that is concurrently GC'd mid-iteration
// (GC preserves every live key's value, just at a new offset, so a stale
// snapshot offset read after a GC will simply fail to resolve and is
// skipped rather than returned corrupted).
type iterator struct {
	s        *Store
	prefix   string
	offsets  []uint32
	pos      int
	curKey   string
	err      error
	closed   bool
}

// IteratorOpen enumerates keys matching prefix ("" for all keys).
func (s *Store) IteratorOpen(prefix string) (kvstore.Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, kvstore.NewError("iterator_open", "", kvstore.NotReady, nil)
	}
	offsets := make([]uint32, len(s.index))
	for i, e := range s.index {
		offsets[i] = e.offset()
	}
	return &iterator{s: s, prefix: prefix, offsets: offsets}, nil
}

func (it *iterator) Next() bool {
	if it.closed || it.err != nil {
		return false
	}
	s := it.s
	for it.pos < len(it.offsets) {
		offset := it.offsets[it.pos]
		it.pos++

		s.mu.Lock()
		base := s.geom.Areas[s.active].Offset
		hdrBuf := make([]byte, headerSize)
		err := s.bd.Read(base+offset, hdrBuf)
		if err != nil {
			s.mu.Unlock()
			continue
		}
		h := decodeHeader(hdrBuf)
		if h.magic != magicValue || h.flags&flagDelete != 0 {
			s.mu.Unlock()
			continue
		}
		keyBuf := make([]byte, h.keySize)
		if h.keySize > 0 {
			if err := s.bd.Read(base+offset+headerSize, keyBuf); err != nil {
				s.mu.Unlock()
				continue
			}
		}
		s.mu.Unlock()

		key := string(keyBuf)
		if !kvstore.HasPrefix(key, it.prefix) {
			continue
		}
		it.curKey = key
		return true
	}
	return false
}

func (it *iterator) Key() string { return it.curKey }
func (it *iterator) Err() error  { return it.err }
func (it *iterator) Close() error {
	it.closed = true
	return nil
}
