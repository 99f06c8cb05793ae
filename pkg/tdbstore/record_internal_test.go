package tdbstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestHeaderRoundTrip checks encodeHeader/decodeHeader agree on every
// field. header has no exported fields, so reflect.DeepEqual's failure
// output would just be two opaque struct dumps; cmp.Diff pinpoints which
// field actually diverged.
func TestHeaderRoundTrip(t *testing.T) {
	cases := []header{
		{magic: magicValue, headerSize: headerSize, revision: currentRevision, flags: 0, keySize: 0, dataSize: 0, crc: 0},
		{
			magic:      magicValue,
			headerSize: headerSize,
			revision:   currentRevision,
			flags:      flagDelete | flagBackup | uint32(1<<24),
			keySize:    42,
			dataSize:   (256 * 1024) & 0x000FFFFF,
			crc:        0xDEADBEEF,
		},
		{magic: 0, headerSize: 0, revision: 0, flags: 0xFFFFFFFF, keySize: 0xFFFF, dataSize: 0xFFFFFFFF, crc: 0xFFFFFFFF},
	}

	for i, want := range cases {
		got := decodeHeader(encodeHeader(want))
		if diff := cmp.Diff(want, got, cmp.AllowUnexported(header{})); diff != "" {
			t.Errorf("case %d: round trip mismatch (-want +got):\n%s", i, diff)
		}
	}
}

// TestHeaderFlagSplit checks that externalFlags strips exactly the
// internal low byte and leaves the kvstore-visible bits untouched.
func TestHeaderFlagSplit(t *testing.T) {
	h := header{flags: flagDelete | flagBackup | flagIsBackup | uint32(1<<24) | uint32(1<<25)}
	want := h.flags &^ internalFlagMask
	if got := uint32(h.externalFlags()); got != want {
		t.Errorf("externalFlags() = %#x, want %#x", got, want)
	}
}
