package tdbstore

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brennawood/fkv/pkg/blockdevice"
	"github.com/brennawood/fkv/pkg/kvstore"
)

const (
	defaultRetries = 16
	defaultBackoff = time.Millisecond
)

// Store is one TDBStore instance bound to a block device range. A single
// mutex per instance serializes every public operation (spec.md §5); a
// streaming writer (SetStart/Add/Finalize) holds the lock for its entire
// lifetime, which is why Add/Finalize are methods of the unexported writer
// type, reached only through the value SetStart returns rather than re-entering Store
// directly — the idiomatic stand-in for the source's single recursive
// mutex, which Go has no direct equivalent of.
type Store struct {
	mu sync.Mutex

	bd   blockdevice.BlockDevice
	geom blockdevice.Geometry
	page *blockdevice.PageBuffer

	programSize uint32
	eraseValue  byte

	active     int
	version    uint16
	freeOffset uint32

	index []indexEntry

	initialized bool
	activeWriter *writer

	retries int
	backoff time.Duration
	sleep   func(time.Duration)

	logger *slog.Logger
}

// Option configures a Store at construction.
type Option func(*Store)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New constructs a Store over bd. Call Init before using it. bd must report
// a fixed erase value (wrap non-flash devices with blockdevice.WrapNonFlash
// first); Init rejects devices that don't, per spec.md §9.
func New(bd blockdevice.BlockDevice, opts ...Option) *Store {
	s := &Store{
		bd:      bd,
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

func (s *Store) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}

	geom, err := blockdevice.ComputeGeometry(s.bd)
	if err != nil {
		return kvstore.NewError("Init", "", kvstore.InvalidArgument, err)
	}
	ev, ok := s.bd.EraseValue()
	if !ok {
		return kvstore.NewError("Init", "", kvstore.InvalidArgument,
			errNoFixedEraseValue)
	}
	s.geom = geom
	s.eraseValue = ev
	s.programSize = s.bd.ProgramSize()
	if s.programSize == 0 {
		s.programSize = 1
	}
	s.page = blockdevice.NewPageBuffer(s.bd)

	if err := s.bd.Init(); err != nil {
		return kvstore.NewError("Init", "", kvstore.ReadError, err)
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
		s.logger.Debug("tdbstore: no valid master record, formatting area 0")
		if err := s.formatArea(0, 1); err != nil {
			return err
		}
		s.active, s.version = 0, 1
	}

	if err := s.scanActiveArea(); err != nil {
		s.logger.Warn("tdbstore: torn record during init scan, recovering via gc", "error", err)
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
		return kvstore.NewError("Reset", "", kvstore.WriteError, err)
	}
	s.active = 0
	s.version = 1
	s.freeOffset = alignUp(headerSize+uint32(len(masterKeyName))+masterPayloadSize, s.programSize)
	s.index = nil
	return nil
}

func (s *Store) areaOffset() uint32 { return s.geom.Areas[s.active].Offset }
func (s *Store) areaSize() uint32   { return s.geom.Areas[s.active].Size }

var errNoFixedEraseValue = &storeErr{"tdbstore: device reports no fixed erase value; wrap with blockdevice.WrapNonFlash first"}

type storeErr struct{ msg string }

func (e *storeErr) Error() string { return e.msg }

var _ kvstore.Store = (*Store)(nil)
