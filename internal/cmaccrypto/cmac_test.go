package cmaccrypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// RFC 4493 §4 test vectors: AES-128 key, CMAC over 0/16/40/64-byte messages.
func TestCMACRFC4493Vectors(t *testing.T) {
	key, err := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	if err != nil {
		t.Fatal(err)
	}
	full := mustHex(t, "6bc1bee22e409f96e93d7e117393172a"+
		"ae2d8a571e03ac9c9eb76fac45af8e51"+
		"30c81c46a35ce411e5fbc1191a0a52ef"+
		"f69f2445df4f9b17ad2b417be66c3710")

	cases := []struct {
		name string
		msg  []byte
		want string
	}{
		{"empty", nil, "bb1d6929e95937287fa37d129b756746"},
		{"16 bytes", full[:16], "070a16b46b4d4144f79bdd9dd04a287c"},
		{"40 bytes", full[:40], "dfa66747de9ae63030ca32611497c827"},
		{"64 bytes", full[:64], "51f0bebf7e3b9d92fc49741779363cfe"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := CMAC(key, c.msg)
			if err != nil {
				t.Fatalf("CMAC: %v", err)
			}
			want := mustHex(t, c.want)
			if !bytes.Equal(got, want) {
				t.Errorf("CMAC(%s) = %x, want %x", c.name, got, want)
			}
			ok, err := Verify(key, c.msg, want)
			if err != nil || !ok {
				t.Errorf("Verify(%s) = %v, %v, want true, nil", c.name, ok, err)
			}
		})
	}
}

func TestVerifyRejectsTamperedTag(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	msg := []byte("some record bytes worth authenticating")
	tag, err := CMAC(key, msg)
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), tag...)
	tampered[0] ^= 0xFF

	ok, err := Verify(key, msg, tampered)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("Verify accepted a tampered tag")
	}
}

// Mac must agree with the one-shot CMAC regardless of how the message is
// chopped into Write calls, including writes that land exactly on a block
// boundary and writes smaller than a block.
func TestMacMatchesCMACAcrossChunkSplits(t *testing.T) {
	key, err := hex.DecodeString("2b7e151628aed2a6abf7158809cf4f3c")
	if err != nil {
		t.Fatal(err)
	}
	full := mustHex(t, "6bc1bee22e409f96e93d7e117393172a"+
		"ae2d8a571e03ac9c9eb76fac45af8e51"+
		"30c81c46a35ce411e5fbc1191a0a52ef"+
		"f69f2445df4f9b17ad2b417be66c3710")

	splits := map[string][]int{
		"empty":             {},
		"one write":         {64},
		"block-aligned":     {16, 16, 16, 16},
		"unaligned":         {5, 11, 1, 31, 16},
		"byte-at-a-time-16": ones(16),
	}

	for name, lens := range splits {
		t.Run(name, func(t *testing.T) {
			var msg []byte
			if name != "empty" {
				msg = full
			}
			want, err := CMAC(key, msg)
			if err != nil {
				t.Fatalf("CMAC: %v", err)
			}

			m, err := NewMac(key)
			if err != nil {
				t.Fatalf("NewMac: %v", err)
			}
			pos := 0
			for _, n := range lens {
				m.Write(msg[pos : pos+n])
				pos += n
			}
			m.Write(msg[pos:])
			if got := m.Sum(); !bytes.Equal(got, want) {
				t.Errorf("Mac(%s) = %x, want %x", name, got, want)
			}
		})
	}
}

func ones(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("hex decode: %v", err)
	}
	return b
}
