package tdbstore

// programRetrying retries a flash program up to s.retries times with
// s.backoff between attempts (spec.md §4.3/§4.4), mirroring pkg/nvstore's
// identical retry policy.
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
