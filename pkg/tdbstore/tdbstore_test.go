package tdbstore_test

import (
	"fmt"
	"testing"

	"github.com/brennawood/fkv/pkg/blockdevice"
	"github.com/brennawood/fkv/pkg/kvstore"
	"github.com/brennawood/fkv/pkg/tdbstore"
)

func newTestDevice() *blockdevice.FlashSim {
	return blockdevice.NewRAM(blockdevice.Config{
		Size:          16384,
		EraseSizes:    []uint32{1024},
		ProgramSize:   16,
		EraseValue:    0xFF,
		HasEraseValue: true,
	})
}

func mustInit(t *testing.T, s *tdbstore.Store) {
	t.Helper()
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	if err := s.Set("key", []byte("data\x00"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	buf := make([]byte, 100)
	n, total, err := s.Get("key", buf, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if total != 5 || n != 5 {
		t.Fatalf("got n=%d total=%d, want 5/5", n, total)
	}
	if string(buf[:n]) != "data\x00" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestGetInfoReflectsFlags(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	if err := s.Set("k", []byte("v"), kvstore.RequireConfidentiality); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := s.GetInfo("k")
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if info.Size != 1 || !info.Flags.Has(kvstore.RequireConfidentiality) {
		t.Fatalf("got %+v", info)
	}
}

func TestWriteOnceRejectsOverwriteAndRemove(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	if err := s.Set("w", []byte("ONCE"), kvstore.WriteOnce); err != nil {
		t.Fatalf("first Set: %v", err)
	}
	if err := s.Set("w", []byte("TWICE"), kvstore.WriteOnce); !kvstore.IsWriteProtected(err) {
		t.Fatalf("second Set: got %v, want WriteProtected", err)
	}
	if err := s.Remove("w"); !kvstore.IsWriteProtected(err) {
		t.Fatalf("Remove: got %v, want WriteProtected", err)
	}
	buf := make([]byte, 16)
	n, _, err := s.Get("w", buf, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(buf[:n]) != "ONCE" {
		t.Fatalf("got %q, want ONCE", buf[:n])
	}
}

func TestRemoveThenGetNotFound(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	if err := s.Set("x", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Remove("x"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	buf := make([]byte, 8)
	if _, _, err := s.Get("x", buf, 0); !kvstore.IsNotFound(err) {
		t.Fatalf("got %v, want NotFound", err)
	}
}

func TestStreamingSetStartAddFinalize(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	w, err := s.SetStart("stream", 10, 0)
	if err != nil {
		t.Fatalf("SetStart: %v", err)
	}
	if err := w.Add([]byte("hello")); err != nil {
		t.Fatalf("Add 1: %v", err)
	}
	if err := w.Add([]byte("world")); err != nil {
		t.Fatalf("Add 2: %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	buf := make([]byte, 16)
	n, total, err := s.Get("stream", buf, 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if total != 10 || string(buf[:n]) != "helloworld" {
		t.Fatalf("got %q total=%d", buf[:n], total)
	}
}

func TestStreamingFinalizeRejectsShortDelivery(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	w, err := s.SetStart("short", 10, 0)
	if err != nil {
		t.Fatalf("SetStart: %v", err)
	}
	if err := w.Add([]byte("only5")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := w.Finalize(); !kvstore.IsInvalidArgument(err) {
		t.Fatalf("Finalize short delivery: got %v, want InvalidArgument", err)
	}
}

func TestGetOffsetIntoValue(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	if err := s.Set("k", []byte("0123456789"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	buf := make([]byte, 4)
	n, total, err := s.Get("k", buf, 5)
	if err != nil {
		t.Fatalf("Get with offset: %v", err)
	}
	if total != 10 || string(buf[:n]) != "5678" {
		t.Fatalf("got %q total=%d", buf[:n], total)
	}
}

func TestIteratorVisitsLiveKeysWithPrefix(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	// '/' is a reserved key character, so "-" separates the prefix here.
	keys := []string{"a-1", "a-2", "b-1", "a-3"}
	for _, k := range keys {
		if err := s.Set(k, []byte("v"), 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if err := s.Remove("a-2"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	it, err := s.IteratorOpen("a-")
	if err != nil {
		t.Fatalf("IteratorOpen: %v", err)
	}
	defer it.Close()

	seen := map[string]bool{}
	for it.Next() {
		seen[it.Key()] = true
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator Err: %v", err)
	}
	want := map[string]bool{"a-1": true, "a-3": true}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for k := range want {
		if !seen[k] {
			t.Fatalf("missing key %s in iteration", k)
		}
	}
}

func TestGCPreservesLiveValuesAcrossOverflow(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	for i := 0; i < 400; i++ {
		k := fmt.Sprintf("key-%d", i%8)
		v := []byte(fmt.Sprintf("value-%d-%d", i%8, i))
		if err := s.Set(k, v, 0); err != nil {
			t.Fatalf("Set iteration %d: %v", i, err)
		}
	}
	for i := 0; i < 8; i++ {
		k := fmt.Sprintf("key-%d", i)
		buf := make([]byte, 64)
		n, _, err := s.Get(k, buf, 0)
		if err != nil {
			t.Fatalf("Get %s: %v", k, err)
		}
		// The last write to key-i was iteration 392+i.
		if want := fmt.Sprintf("value-%d-%d", i, 392+i); string(buf[:n]) != want {
			t.Fatalf("value for %s = %q, want %q", k, buf[:n], want)
		}
	}
}

func TestInitIdempotentAcrossRestart(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)
	if err := s.Set("persist", []byte("durable"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Deinit(); err != nil {
		t.Fatalf("Deinit: %v", err)
	}

	s2 := tdbstore.New(sim)
	mustInit(t, s2)
	buf := make([]byte, 16)
	n, _, err := s2.Get("persist", buf, 0)
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if string(buf[:n]) != "durable" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestFactoryResetKeepsOnlyBackupMarkedRecords(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	if err := s.Set("keep", []byte("factory"), 0); err != nil {
		t.Fatalf("Set keep: %v", err)
	}
	if err := s.MarkBackup("keep"); err != nil {
		t.Fatalf("MarkBackup: %v", err)
	}
	if err := s.Set("drop", []byte("ephemeral"), 0); err != nil {
		t.Fatalf("Set drop: %v", err)
	}

	if err := s.FactoryReset(); err != nil {
		t.Fatalf("FactoryReset: %v", err)
	}

	buf := make([]byte, 16)
	n, _, err := s.Get("keep", buf, 0)
	if err != nil {
		t.Fatalf("Get keep after factory reset: %v", err)
	}
	if string(buf[:n]) != "factory" {
		t.Fatalf("got %q", buf[:n])
	}
	if _, _, err := s.Get("drop", buf, 0); !kvstore.IsNotFound(err) {
		t.Fatalf("Get drop after factory reset: got %v, want NotFound", err)
	}
}

func TestInvalidKeyRejected(t *testing.T) {
	sim := newTestDevice()
	sim.Init()
	s := tdbstore.New(sim)
	mustInit(t, s)

	if err := s.Set("bad key", []byte("v"), 0); !kvstore.IsInvalidArgument(err) {
		t.Fatalf("got %v, want InvalidArgument", err)
	}
}
