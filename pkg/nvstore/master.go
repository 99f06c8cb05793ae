package nvstore

// formatRevision is the on-flash master-record format revision this
// package writes and expects.
const formatRevision uint16 = 1

// masterPayloadSize is version(2) + format_rev(2) + reserved(1), the
// {version, format_rev, reserved} triple spec.md §6.3 requires of every
// master record.
const masterPayloadSize = 5

func encodeMasterPayload(version uint16) []byte {
	buf := make([]byte, masterPayloadSize)
	putU16(buf[0:2], version)
	putU16(buf[2:4], formatRevision)
	buf[4] = 0
	return buf
}

func decodeMasterPayload(buf []byte) (version, formatRev uint16) {
	return getU16(buf[0:2]), getU16(buf[2:4])
}

// serialNewer reports whether b is newer than a under 16-bit serial-number
// arithmetic, so that a version of 0 correctly counts as "newest" right
// after wrapping around from 0xFFFF (spec.md §4.3).
func serialNewer(a, b uint16) bool {
	return int16(b-a) > 0
}
