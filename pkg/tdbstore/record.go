// Package tdbstore implements the variable-length-key log-structured store
// (spec.md §3.1/§4.4): two flash areas, append-only records, a RAM hash-table
// index, streaming writes/reads, two-pass GC, and write-once enforcement.
// It implements pkg/kvstore.Store.
package tdbstore

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/brennawood/fkv/internal/crc32mpeg"
	"github.com/brennawood/fkv/pkg/kvstore"
)

// MaxKeySize and MaxDataSize bound what a caller may set (spec.md §4.4:
// "up to 256 KiB data, 1 KiB key"). kvstore.MaxKeySize (127) is the shared
// KVStore-contract bound; TDBStore's own ceiling is looser, so the
// effective limit a caller sees is still kvstore.MaxKeySize via
// kvstore.ValidateKey.
const (
	MaxKeySize  = 1024
	MaxDataSize = 256 * 1024
)

const magicValue uint32 = 0x54444253 // "TDBS"

// Internal on-flash flags, packed into the low byte of header.flags; the
// high bytes mirror kvstore.Flags bits directly (spec.md §3.1: "low bits
// for internal flags such as DELETE, high bits mirror user-visible flags").
const (
	flagDelete uint32 = 1 << 0
	flagBackup uint32 = 1 << 1 // update_backup: preserved verbatim by factory-reset GC
	flagIsBackup uint32 = 1 << 2
)

const internalFlagMask uint32 = 0xFF

// headerSize is magic(4) + header_size(2) + revision(2) + flags(4) +
// key_size(2) + data_size(4) + crc(4).
const headerSize = 22

const currentRevision uint16 = 1

type header struct {
	magic      uint32
	headerSize uint16
	revision   uint16
	flags      uint32 // low byte internal, bits 24-27 mirror kvstore.Flags
	keySize    uint16
	dataSize   uint32 // low 20 bits; high bits reserved, always zero
	crc        uint32
}

func (h header) externalFlags() kvstore.Flags {
	return kvstore.Flags(h.flags &^ internalFlagMask)
}

func (h header) dataLen() uint32 { return h.dataSize & 0x000FFFFF }

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.headerSize)
	binary.LittleEndian.PutUint16(buf[6:8], h.revision)
	binary.LittleEndian.PutUint32(buf[8:12], h.flags)
	binary.LittleEndian.PutUint16(buf[12:14], h.keySize)
	binary.LittleEndian.PutUint32(buf[14:18], h.dataSize)
	binary.LittleEndian.PutUint32(buf[18:22], h.crc)
	return buf
}

func decodeHeader(buf []byte) header {
	return header{
		magic:      binary.LittleEndian.Uint32(buf[0:4]),
		headerSize: binary.LittleEndian.Uint16(buf[4:6]),
		revision:   binary.LittleEndian.Uint16(buf[6:8]),
		flags:      binary.LittleEndian.Uint32(buf[8:12]),
		keySize:    binary.LittleEndian.Uint16(buf[12:14]),
		dataSize:   binary.LittleEndian.Uint32(buf[14:18]),
		crc:        binary.LittleEndian.Uint32(buf[18:22]),
	}
}

// isBlank reports whether the magic field still reads as the device's
// erase pattern, i.e. no record has ever been written at this offset.
func isBlank(magicBytes []byte, eraseValue byte) bool {
	for _, b := range magicBytes {
		if b != eraseValue {
			return false
		}
	}
	return true
}

// hashKey returns the RAM-table hash for key: the first 4 bytes of its
// SHA-256 digest, per spec.md §3.2.
func hashKey(key string) uint32 {
	sum := sha256.Sum256([]byte(key))
	return binary.LittleEndian.Uint32(sum[0:4])
}

func newCRCState() uint32 { return crc32mpeg.New() }

// recordCRC computes the full record CRC: header-minus-crc, then key bytes,
// then data, per spec.md §3.1.
func recordCRC(h header, key []byte, data []byte) uint32 {
	crc := newCRCState()
	crc = crc32mpeg.Update(crc, encodeHeader(h)[:headerSize-4])
	crc = crc32mpeg.Update(crc, key)
	crc = crc32mpeg.Update(crc, data)
	return crc
}

func alignUp(n, align uint32) uint32 {
	if align <= 1 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// padByte is the sentinel padding byte used to fill a record out to
// program-granularity; spec.md §3.1 requires this be distinct from the
// erase value so blank-tail detection stays unambiguous.
const padByte = 0xA5
