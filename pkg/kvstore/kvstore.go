package kvstore

// Writer is the handle returned by SetStart. It must be driven to either
// Finalize or Abort; the store's lock is held for its entire lifetime, so a
// caller that forgets to close one wedges the store.
type Writer interface {
	// Add streams another chunk of the record's payload. The sum of all
	// Add calls must equal the final_size declared to SetStart exactly.
	Add(data []byte) error

	// Finalize completes the record: it patches the header CRC, syncs the
	// device and releases the store's lock. Calling Add afterwards is an
	// error.
	Finalize() error

	// Abort releases the lock without completing the record. The partial
	// record remains on flash but is never visible to Get/iteration because
	// its header CRC was never patched in.
	Abort() error
}

// Iterator enumerates the live keys of a store matching an optional prefix,
// in unspecified order, with no duplicates and no entries for removed or
// tombstoned keys.
type Iterator interface {
	// Next advances to the next matching key. It returns false when
	// iteration is exhausted or an error occurred; callers should consult
	// Err after a false return.
	Next() bool

	// Key returns the key at the current position. Only valid after a Next
	// call returned true.
	Key() string

	// Err returns the first error encountered during iteration, if any.
	Err() error

	// Close releases resources held by the iterator. Safe to call multiple
	// times.
	Close() error
}

// Store is the contract shared by TDBStore and SecureStore (spec.md §6.1).
// A filesystem-backed Store is a plausible alternative backend but is out
// of scope for this module and does not implement this interface here.
type Store interface {
	Init() error
	Deinit() error
	Reset() error

	// Get reads up to len(buf) bytes of the value for key, starting at
	// offset into the (decoded, if applicable) value. It returns the number
	// of bytes copied into buf and the value's total size.
	Get(key string, buf []byte, offset uint32) (n int, total uint32, err error)

	GetInfo(key string) (Info, error)
	Set(key string, data []byte, flags Flags) error
	Remove(key string) error

	SetStart(key string, finalSize uint32, flags Flags) (Writer, error)

	// IteratorOpen enumerates keys matching prefix ("" for all keys).
	IteratorOpen(prefix string) (Iterator, error)
}
