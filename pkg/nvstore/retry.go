package nvstore

// programRetrying retries a flash program up to s.retries times with
// s.backoff between attempts, per spec.md §4.3: "flash program is retried
// up to 16 times with 1 ms backoff (hardware drivers occasionally reject
// during unrelated critical sections)". CRC still covers the whole record,
// so a program that partially lands and is retried is harmless: either the
// final bytes on flash match what was requested, or the header/CRC never
// validates and the record is treated as torn.
func (s *Store) programRetrying(addr uint32, data []byte) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if err = s.bd.Program(addr, data); err == nil {
			return nil
		}
		if attempt < s.retries {
			s.sleep(s.backoff)
		}
	}
	return err
}
