package securestore

import "encoding/binary"

// recordMeta is the record_metadata block spec.md §3.4 prepends to every
// SecureStore record: `{ metadata_size, revision, plaintext data_size,
// create_flags, nonce }`.
type recordMeta struct {
	metaSize     uint16
	revision     uint16
	dataSize     uint32
	createFlags  uint32
	nonce        [nonceSize]byte
}

func encodeMeta(m recordMeta) []byte {
	buf := make([]byte, metaSize)
	binary.LittleEndian.PutUint16(buf[0:2], m.metaSize)
	binary.LittleEndian.PutUint16(buf[2:4], m.revision)
	binary.LittleEndian.PutUint32(buf[4:8], m.dataSize)
	binary.LittleEndian.PutUint32(buf[8:12], m.createFlags)
	copy(buf[12:12+nonceSize], m.nonce[:])
	return buf
}

func decodeMeta(buf []byte) recordMeta {
	var m recordMeta
	m.metaSize = binary.LittleEndian.Uint16(buf[0:2])
	m.revision = binary.LittleEndian.Uint16(buf[2:4])
	m.dataSize = binary.LittleEndian.Uint32(buf[4:8])
	m.createFlags = binary.LittleEndian.Uint32(buf[8:12])
	copy(m.nonce[:], buf[12:12+nonceSize])
	return m
}
