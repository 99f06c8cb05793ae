package securestore_test

import (
	"bytes"
	"testing"

	"github.com/brennawood/fkv/pkg/blockdevice"
	"github.com/brennawood/fkv/pkg/devicekey"
	"github.com/brennawood/fkv/pkg/kvstore"
	"github.com/brennawood/fkv/pkg/nvstore"
	"github.com/brennawood/fkv/pkg/securestore"
	"github.com/brennawood/fkv/pkg/tdbstore"
)

func newSim(t *testing.T, size uint32) blockdevice.BlockDevice {
	t.Helper()
	sim := blockdevice.NewRAM(blockdevice.Config{
		Size:          size,
		EraseSizes:    []uint32{1024},
		ProgramSize:   16,
		EraseValue:    0xFF,
		HasEraseValue: true,
	})
	if err := sim.Init(); err != nil {
		t.Fatalf("sim.Init: %v", err)
	}
	return sim
}

func newTDB(t *testing.T) *tdbstore.Store {
	t.Helper()
	tdb := tdbstore.New(newSim(t, 32*1024))
	if err := tdb.Init(); err != nil {
		t.Fatalf("tdb.Init: %v", err)
	}
	return tdb
}

func newKeys(t *testing.T) *devicekey.Store {
	t.Helper()
	keyNV := nvstore.New(newSim(t, 4096), nvstore.WithMaxKeys(4))
	if err := keyNV.Init(); err != nil {
		t.Fatalf("keyNV.Init: %v", err)
	}
	return devicekey.New(keyNV)
}

func newRBP(t *testing.T) *nvstore.Store {
	t.Helper()
	rbp := nvstore.New(newSim(t, 4096), nvstore.WithMaxKeys(32))
	if err := rbp.Init(); err != nil {
		t.Fatalf("rbp.Init: %v", err)
	}
	return rbp
}

func TestSetGetRoundTripConfidentialAndIntegrity(t *testing.T) {
	ss := securestore.New(newTDB(t), newKeys(t), securestore.WithRollbackProtection(newRBP(t)))
	want := []byte("the quick brown fox jumps over the lazy dog")
	flags := kvstore.RequireConfidentiality | kvstore.RequireIntegrity
	if err := ss.Set("alpha", want, flags); err != nil {
		t.Fatalf("Set: %v", err)
	}

	buf := make([]byte, len(want))
	n, total, err := ss.Get("alpha", buf, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if total != uint32(len(want)) || !bytes.Equal(buf[:n], want) {
		t.Fatalf("got %q (total %d), want %q", buf[:n], total, want)
	}
}

func TestSetGetRoundTripPlaintext(t *testing.T) {
	ss := securestore.New(newTDB(t), newKeys(t))
	want := []byte("not secret")
	if err := ss.Set("plain", want, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	buf := make([]byte, len(want))
	n, _, err := ss.Get("plain", buf, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("got %q, want %q", buf[:n], want)
	}
}

func TestGetDetectsTamperedCiphertext(t *testing.T) {
	tdb := newTDB(t)
	ss := securestore.New(tdb, newKeys(t))

	if err := ss.Set("beta", []byte("payload"), kvstore.RequireConfidentiality); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw := make([]byte, 256)
	n, _, err := tdb.Get("beta", raw, 0)
	if err != nil {
		t.Fatalf("tdb.Get: %v", err)
	}
	tampered := make([]byte, n)
	copy(tampered, raw[:n])
	tampered[len(tampered)/2] ^= 0xFF
	if err := tdb.Set("beta", tampered, kvstore.RequireConfidentiality); err != nil {
		t.Fatalf("tdb.Set tampered: %v", err)
	}

	buf := make([]byte, 32)
	if _, _, err := ss.Get("beta", buf, 0); !kvstore.IsAuthenticationFailed(err) {
		t.Fatalf("got %v, want AuthenticationFailed", err)
	}
}

func TestSetRejectsFlagWeakening(t *testing.T) {
	ss := securestore.New(newTDB(t), newKeys(t), securestore.WithRollbackProtection(newRBP(t)))
	if err := ss.Set("delta", []byte("v1"), kvstore.RequireReplayProtection|kvstore.RequireConfidentiality); err != nil {
		t.Fatalf("Set: %v", err)
	}
	err := ss.Set("delta", []byte("v2"), kvstore.RequireConfidentiality)
	if !kvstore.IsInvalidArgument(err) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}

func TestWriteOnceWithReplayProtectionRejectsSecondSet(t *testing.T) {
	ss := securestore.New(newTDB(t), newKeys(t), securestore.WithRollbackProtection(newRBP(t)))
	flags := kvstore.WriteOnce | kvstore.RequireReplayProtection
	if err := ss.Set("epsilon", []byte("v1"), flags); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := ss.Set("epsilon", []byte("v2"), flags); err == nil {
		t.Fatalf("expected second Set on write-once key to fail")
	}
}

func TestStreamingSetStartAddFinalize(t *testing.T) {
	ss := securestore.New(newTDB(t), newKeys(t))
	payload := bytes.Repeat([]byte{0xAB}, 100)
	w, err := ss.SetStart("zeta", uint32(len(payload)), kvstore.RequireConfidentiality)
	if err != nil {
		t.Fatalf("SetStart: %v", err)
	}
	if err := w.Add(payload[:40]); err != nil {
		t.Fatalf("Add 1: %v", err)
	}
	if err := w.Add(payload[40:]); err != nil {
		t.Fatalf("Add 2: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	buf := make([]byte, len(payload))
	n, _, err := ss.Get("zeta", buf, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("round trip mismatch")
	}
}

func TestGetWindowedReadSpansMultipleStreamChunks(t *testing.T) {
	ss := securestore.New(newTDB(t), newKeys(t))
	payload := make([]byte, 900)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := ss.Set("windowed", payload, kvstore.RequireConfidentiality); err != nil {
		t.Fatalf("Set: %v", err)
	}

	buf := make([]byte, 150)
	n, total, err := ss.Get("windowed", buf, 400)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if total != uint32(len(payload)) {
		t.Fatalf("total = %d, want %d", total, len(payload))
	}
	if !bytes.Equal(buf[:n], payload[400:400+n]) {
		t.Fatalf("windowed read mismatch at offset 400")
	}
}

func TestIteratorPassesThroughToUnderlying(t *testing.T) {
	ss := securestore.New(newTDB(t), newKeys(t))
	if err := ss.Set("iter-a", []byte("1"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := ss.Set("iter-b", []byte("2"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	it, err := ss.IteratorOpen("iter-")
	if err != nil {
		t.Fatalf("IteratorOpen: %v", err)
	}
	defer it.Close()
	seen := map[string]bool{}
	for it.Next() {
		seen[it.Key()] = true
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration error: %v", err)
	}
	if !seen["iter-a"] || !seen["iter-b"] {
		t.Fatalf("got %v, want both iter-a and iter-b", seen)
	}
}
