// Package blockdevice normalises the raw flash/simulant interface spec.md
// §1 treats as an external collaborator: init/deinit/read/program/erase/
// sync, size, per-address erase size, program size and erase value. It also
// supplies the page-buffering adapter and the FlashSim simulator used by
// tests and by non-flash backing stores.
package blockdevice

import "errors"

// ErrNotInitialized is returned by any operation attempted before Init.
var ErrNotInitialized = errors.New("blockdevice: not initialized")

// BlockDevice is the raw flash interface every engine is built on. Clients
// must never assume a uniform erase-unit size across the device; EraseSize
// must be queried per address to support banked flash with heterogeneous
// sectors.
type BlockDevice interface {
	Init() error
	Deinit() error

	Read(addr uint32, buf []byte) error
	Program(addr uint32, data []byte) error
	Erase(addr uint32, size uint32) error
	Sync() error

	Size() uint32
	EraseSize(addr uint32) uint32
	ProgramSize() uint32

	// EraseValue reports the byte value an erased region reads back as. ok
	// is false for "non-flash" simulants with no fixed erase value (spec.md
	// §9); such a device must be wrapped with WrapNonFlash before any
	// engine will initialize on it.
	EraseValue() (value byte, ok bool)
}
