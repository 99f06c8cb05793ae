package nvstore

import "github.com/brennawood/fkv/internal/crc32mpeg"

// headerSize is the fixed NVStore record header: key|flags(16b) +
// size|owner(16b) + crc32(32b), per spec.md §3.3.
const headerSize = 8

// MasterKey is the reserved key used for each area's master record.
const MasterKey uint16 = 0xFFE

const (
	flagDeleted uint16 = 1 << 0
	flagSetOnce uint16 = 1 << 1
)

type header struct {
	key     uint16
	flags   uint16
	size    uint16
	owner   byte
	crc     uint32
}

func packKeyFlags(key, flags uint16) uint16 { return (key << 4) | (flags & 0xF) }
func unpackKeyFlags(v uint16) (key, flags uint16) {
	return v >> 4, v & 0xF
}

func packSizeOwner(size uint16, owner byte) uint16 {
	return (size << 4) | uint16(owner&0xF)
}
func unpackSizeOwner(v uint16) (size uint16, owner byte) {
	return v >> 4, byte(v & 0xF)
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	putU16(buf[0:2], packKeyFlags(h.key, h.flags))
	putU16(buf[2:4], packSizeOwner(h.size, h.owner))
	putU32(buf[4:8], h.crc)
	return buf
}

func decodeHeader(buf []byte) header {
	kf := getU16(buf[0:2])
	so := getU16(buf[2:4])
	key, flags := unpackKeyFlags(kf)
	size, owner := unpackSizeOwner(so)
	return header{key: key, flags: flags, size: size, owner: owner, crc: getU32(buf[4:8])}
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func getU16(b []byte) uint16    { return uint16(b[0]) | uint16(b[1])<<8 }

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// isBlank reports whether the 2-byte key|flags field is the erase pattern,
// i.e. this slot has never been written (end of the append-only log).
func isBlank(keyFlagsBytes []byte, eraseValue byte) bool {
	return keyFlagsBytes[0] == eraseValue && keyFlagsBytes[1] == eraseValue
}

func computeCRC(h header, payload []byte) uint32 {
	crc := crc32mpeg.New()
	hdrNoCRC := encodeHeader(h)[:4]
	crc = crc32mpeg.Update(crc, hdrNoCRC)
	crc = crc32mpeg.Update(crc, payload)
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
