package nvstore

func (s *Store) checkKey(key uint16) error {
	if key == MasterKey || int(key) >= s.maxKeys {
		return ErrInvalidArgument
	}
	return nil
}

// Set writes buf under key, appending a new record. See SetOnce for the
// write-once variant.
func (s *Store) Set(key uint16, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(key, buf, false, 0)
}

// SetOnce writes buf under key and marks it write-once: any later Set,
// SetOnce or Remove on the same key fails with ErrAlreadyExists until a
// full Reset.
func (s *Store) SetOnce(key uint16, buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(key, buf, true, 0)
}

func (s *Store) setLocked(key uint16, buf []byte, setOnce bool, owner byte) error {
	if !s.initialized {
		return ErrNotReady
	}
	if err := s.checkKey(key); err != nil {
		return err
	}
	if len(buf) > 0xFFF {
		return ErrInvalidSize
	}
	e := &s.index[key]
	if e.allocated && e.setOnce {
		return ErrAlreadyExists
	}
	if e.allocated && owner == 0 {
		owner = e.owner
	}

	flags := uint16(0)
	if setOnce {
		flags |= flagSetOnce
	}
	h := header{key: key, flags: flags, size: uint16(len(buf)), owner: owner}
	h.crc = computeCRC(h, buf)
	rec := append(encodeHeader(h), buf...)
	aligned := alignUp(uint32(len(rec)), s.programSize)

	if s.freeOffset+aligned > s.areaSize() {
		if err := s.gc(false); err != nil {
			return err
		}
		if s.freeOffset+aligned > s.areaSize() {
			return ErrMediaFull
		}
	}

	addr := s.areaOffset() + s.freeOffset
	if err := s.programRetrying(addr, rec); err != nil {
		return ErrWriteError
	}
	if err := s.bd.Sync(); err != nil {
		return ErrWriteError
	}

	e.allocated = true
	e.hasRecord = true
	e.setOnce = setOnce
	e.owner = owner
	e.size = uint16(len(buf))
	e.offset = s.freeOffset
	s.freeOffset += aligned
	return nil
}

// Remove tombstones key. Write-once keys can never be removed.
func (s *Store) Remove(key uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(key)
}

func (s *Store) removeLocked(key uint16) error {
	if !s.initialized {
		return ErrNotReady
	}
	if err := s.checkKey(key); err != nil {
		return err
	}
	e := &s.index[key]
	if !e.allocated {
		return ErrNotFound
	}
	if e.setOnce {
		return ErrAlreadyExists
	}

	h := header{key: key, flags: flagDeleted, size: 0, owner: e.owner}
	h.crc = computeCRC(h, nil)
	rec := encodeHeader(h)
	aligned := alignUp(uint32(len(rec)), s.programSize)
	if s.freeOffset+aligned > s.areaSize() {
		if err := s.gc(false); err != nil {
			return err
		}
		if s.freeOffset+aligned > s.areaSize() {
			return ErrMediaFull
		}
	}
	addr := s.areaOffset() + s.freeOffset
	if err := s.programRetrying(addr, rec); err != nil {
		return ErrWriteError
	}
	s.freeOffset += aligned
	*e = entry{}
	return nil
}

// Get copies key's whole value into buf, returning the actual stored size.
// buf must hold at least that many bytes, otherwise Get returns
// ErrInvalidSize.
func (s *Store) Get(key uint16, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, ErrNotReady
	}
	if err := s.checkKey(key); err != nil {
		return 0, err
	}
	e := &s.index[key]
	if !e.allocated || !e.hasRecord {
		return 0, ErrNotFound
	}
	if len(buf) < int(e.size) {
		return 0, ErrInvalidSize
	}
	hdrBuf := make([]byte, headerSize)
	addr := s.areaOffset() + e.offset
	if err := s.bd.Read(addr, hdrBuf); err != nil {
		return 0, ErrReadError
	}
	h := decodeHeader(hdrBuf)
	payload := buf[:e.size]
	if e.size > 0 {
		if err := s.bd.Read(addr+headerSize, payload); err != nil {
			return 0, ErrReadError
		}
	}
	if computeCRC(h, payload) != h.crc {
		return 0, ErrDataCorrupt
	}
	return int(e.size), nil
}

// GetItemSize returns the stored size of key without reading its payload.
func (s *Store) GetItemSize(key uint16) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, ErrNotReady
	}
	if err := s.checkKey(key); err != nil {
		return 0, err
	}
	e := &s.index[key]
	if !e.allocated || !e.hasRecord {
		return 0, ErrNotFound
	}
	return int(e.size), nil
}

// AllocateKey reserves the first free key slot for owner without writing a
// record; callers (e.g. SecureStore's rollback-protection token store) are
// expected to Set a value under the returned key immediately.
func (s *Store) AllocateKey(owner byte) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return 0, ErrNotReady
	}
	for i := range s.index {
		if uint16(i) == MasterKey {
			continue
		}
		if !s.index[i].allocated {
			s.index[i].allocated = true
			s.index[i].owner = owner
			return uint16(i), nil
		}
	}
	return 0, ErrMediaFull
}

// FreeAllKeysByOwner releases every key allocated to owner, tombstoning any
// that have a written record.
func (s *Store) FreeAllKeysByOwner(owner byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotReady
	}
	for i := range s.index {
		e := &s.index[i]
		if !e.allocated || e.owner != owner {
			continue
		}
		if e.hasRecord {
			if err := s.removeLocked(uint16(i)); err != nil {
				return err
			}
		} else {
			*e = entry{}
		}
	}
	return nil
}
