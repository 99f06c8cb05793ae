package tdbstore

import "encoding/binary"

// masterKeyName is a key no user record can ever hash to in practice, but more
// importantly the master record is recognized by its distinct magic value,
// not by key collision risk.
const masterKeyName = "TDBStore"

const masterMagic uint32 = 0x544D4153 // "TMAS"

// masterPayloadSize is version(2) + format_rev(2) + reserved(1), matching
// the {version, format_rev, reserved} triple spec.md §6.3 requires of
// every master record, mirroring pkg/nvstore's.
const masterPayloadSize = 5

const formatRevision uint16 = 1

func encodeMasterPayload(version uint16) []byte {
	buf := make([]byte, masterPayloadSize)
	binary.LittleEndian.PutUint16(buf[0:2], version)
	binary.LittleEndian.PutUint16(buf[2:4], formatRevision)
	buf[4] = 0
	return buf
}

func decodeMasterPayload(buf []byte) (version, formatRev uint16) {
	return binary.LittleEndian.Uint16(buf[0:2]), binary.LittleEndian.Uint16(buf[2:4])
}

// serialNewer reports whether b is newer than a under 16-bit serial-number
// arithmetic (spec.md §4.3's wrap-around rule, shared with pkg/nvstore).
func serialNewer(a, b uint16) bool {
	return int16(b-a) > 0
}
