// Package nvstore implements the small, fixed-12-bit-key, CRC32-
// authenticated log-structured store spec.md §3.3/§4.3 describes: it backs
// DeviceKey's root-of-trust slot and SecureStore's rollback-protection
// tokens. Unlike pkg/tdbstore it is not part of the shared KVStore contract
// (spec.md §6.1) — it is a lower-level engine with its own small error
// vocabulary (see errors.go).
package nvstore

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brennawood/fkv/pkg/blockdevice"
)

// DefaultMaxKeys is used when a Store is constructed without an explicit
// max-keys configuration.
const DefaultMaxKeys = 128

const (
	defaultRetries = 16
	defaultBackoff = time.Millisecond
)

type entry struct {
	allocated bool
	hasRecord bool
	setOnce   bool
	owner     byte
	size      uint16
	offset    uint32
}

// Store is one NVStore instance bound to a block device range. Every
// exported method is safe for concurrent use; a single mutex per instance
// serializes all operations (spec.md §5).
type Store struct {
	mu sync.Mutex

	bd   blockdevice.BlockDevice
	geom blockdevice.Geometry

	programSize uint32
	eraseValue  byte

	active     int
	version    uint16
	freeOffset uint32

	maxKeys int
	index   []entry

	initialized bool

	retries int
	backoff time.Duration
	sleep   func(time.Duration)

	logger *slog.Logger
}

// Option configures a Store before Init.
type Option func(*Store)

// WithMaxKeys sets the number of addressable keys (0..n-1); 0xFFE stays
// reserved for the master record regardless of this bound.
func WithMaxKeys(n int) Option {
	return func(s *Store) { s.maxKeys = n }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New constructs a Store over bd. Call Init before using it.
func New(bd blockdevice.BlockDevice, opts ...Option) *Store {
	s := &Store{
		bd:      bd,
		maxKeys: DefaultMaxKeys,
		retries: defaultRetries,
		backoff: defaultBackoff,
		sleep:   time.Sleep,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Size() uint32 { return s.bd.Size() }

func (s *Store) GetMaxKeys() int { return s.maxKeys }

// GetMaxPossibleKeys estimates the largest max-keys value that could ever
// fit an area's worth of minimal (empty-payload) records, used by callers
// sizing SetMaxKeys.
func (s *Store) GetMaxPossibleKeys() int {
	if s.geom.Areas[0].Size == 0 {
		return 0
	}
	usable := s.geom.Areas[0].Size - alignUp(headerSize+masterPayloadSize, s.programSize)
	perRecord := alignUp(headerSize, s.programSize)
	if perRecord == 0 {
		return 0
	}
	return int(usable / perRecord)
}

// SetMaxKeys grows the addressable key space. Shrinking requires Reset
// first (spec.md §9's redesign note: "increasing the bound is the only
// safe direction during runtime"). Must be called before Init.
func (s *Store) SetMaxKeys(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return ErrNotReady
	}
	if n < s.maxKeys {
		return ErrInvalidArgument
	}
	s.maxKeys = n
	return nil
}

// Init scans both areas, validates their master records, and selects the
// higher-versioned valid area as active, recovering via GC if the active
// area's tail is torn.
func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	geom, err := blockdevice.ComputeGeometry(s.bd)
	if err != nil {
		return ErrInvalidArgument
	}
	ev, ok := s.bd.EraseValue()
	if !ok {
		return ErrInvalidArgument
	}
	s.geom = geom
	s.eraseValue = ev
	s.programSize = s.bd.ProgramSize()
	if s.programSize == 0 {
		s.programSize = 1
	}
	s.index = make([]entry, s.maxKeys)

	if err := s.bd.Init(); err != nil {
		return ErrReadError
	}

	versions := [2]uint16{}
	valid := [2]bool{}
	for i := 0; i < 2; i++ {
		v, ok := s.readMaster(i)
		valid[i], versions[i] = ok, v
	}

	switch {
	case valid[0] && valid[1]:
		if serialNewer(versions[0], versions[1]) {
			s.active, s.version = 1, versions[1]
		} else {
			s.active, s.version = 0, versions[0]
		}
	case valid[0]:
		s.active, s.version = 0, versions[0]
	case valid[1]:
		s.active, s.version = 1, versions[1]
	default:
		s.logger.Debug("nvstore: no valid master record, formatting area 0")
		if err := s.formatArea(0, 1); err != nil {
			return err
		}
		s.active, s.version = 0, 1
	}

	if err := s.scanActiveArea(); err != nil {
		s.logger.Warn("nvstore: torn record during init scan, recovering via gc", "error", err)
		if err := s.gc(false); err != nil {
			return err
		}
	}

	s.initialized = true
	return nil
}

func (s *Store) Deinit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	s.index = nil
	return s.bd.Deinit()
}

// Reset erases both areas and starts fresh with version 1 in area 0.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.formatArea(0, 1); err != nil {
		return err
	}
	if err := s.bd.Erase(s.geom.Areas[1].Offset, s.geom.Areas[1].Size); err != nil {
		return ErrWriteError
	}
	s.active = 0
	s.version = 1
	s.freeOffset = alignUp(headerSize+masterPayloadSize, s.programSize)
	for i := range s.index {
		s.index[i] = entry{}
	}
	return nil
}

func (s *Store) areaOffset() uint32 { return s.geom.Areas[s.active].Offset }
func (s *Store) areaSize() uint32   { return s.geom.Areas[s.active].Size }
