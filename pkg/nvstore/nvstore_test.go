package nvstore_test

import (
	"testing"

	"github.com/brennawood/fkv/pkg/blockdevice"
	"github.com/brennawood/fkv/pkg/nvstore"
)

func newTestDevice(t *testing.T) *blockdevice.FlashSim {
	t.Helper()
	return blockdevice.NewRAM(blockdevice.Config{
		Size:          4096,
		EraseSizes:    []uint32{512},
		ProgramSize:   8,
		EraseValue:    0xFF,
		HasEraseValue: true,
	})
}

func mustInit(t *testing.T, s *nvstore.Store) {
	t.Helper()
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	sim := newTestDevice(t)
	sim.Init()
	s := nvstore.New(sim, nvstore.WithMaxKeys(16))
	mustInit(t, s)

	want := []byte("hello world")
	if err := s.Set(3, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got := make([]byte, 32)
	n, err := s.Get(3, got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got[:n]) != string(want) {
		t.Fatalf("got %q, want %q", got[:n], want)
	}
}

func TestGetNotFound(t *testing.T) {
	sim := newTestDevice(t)
	sim.Init()
	s := nvstore.New(sim, nvstore.WithMaxKeys(16))
	mustInit(t, s)

	buf := make([]byte, 8)
	if _, err := s.Get(5, buf); err != nvstore.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSetOnceRejectsSecondWrite(t *testing.T) {
	sim := newTestDevice(t)
	sim.Init()
	s := nvstore.New(sim, nvstore.WithMaxKeys(16))
	mustInit(t, s)

	if err := s.SetOnce(1, []byte("first")); err != nil {
		t.Fatalf("first SetOnce: %v", err)
	}
	if err := s.SetOnce(1, []byte("second")); err != nvstore.ErrAlreadyExists {
		t.Fatalf("second SetOnce: got %v, want ErrAlreadyExists", err)
	}
	if err := s.Set(1, []byte("third")); err != nvstore.ErrAlreadyExists {
		t.Fatalf("Set over write-once: got %v, want ErrAlreadyExists", err)
	}
	if err := s.Remove(1); err != nvstore.ErrAlreadyExists {
		t.Fatalf("Remove over write-once: got %v, want ErrAlreadyExists", err)
	}
}

func TestRemoveThenGetNotFound(t *testing.T) {
	sim := newTestDevice(t)
	sim.Init()
	s := nvstore.New(sim, nvstore.WithMaxKeys(16))
	mustInit(t, s)

	if err := s.Set(2, []byte("x")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Remove(2); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	buf := make([]byte, 8)
	if _, err := s.Get(2, buf); err != nvstore.ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestInitIsIdempotentAcrossRestart(t *testing.T) {
	sim := newTestDevice(t)
	sim.Init()
	s := nvstore.New(sim, nvstore.WithMaxKeys(16))
	mustInit(t, s)
	if err := s.Set(7, []byte("persisted")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Deinit(); err != nil {
		t.Fatalf("Deinit: %v", err)
	}

	s2 := nvstore.New(sim, nvstore.WithMaxKeys(16))
	mustInit(t, s2)
	buf := make([]byte, 32)
	n, err := s2.Get(7, buf)
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if string(buf[:n]) != "persisted" {
		t.Fatalf("got %q after restart", buf[:n])
	}
}

func TestGCReclaimsSpaceAcrossManyWrites(t *testing.T) {
	sim := newTestDevice(t)
	sim.Init()
	s := nvstore.New(sim, nvstore.WithMaxKeys(4))
	mustInit(t, s)

	for i := 0; i < 200; i++ {
		if err := s.Set(1, []byte("some payload bytes")); err != nil {
			t.Fatalf("Set iteration %d: %v", i, err)
		}
	}
	buf := make([]byte, 32)
	n, err := s.Get(1, buf)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(buf[:n]) != "some payload bytes" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestAllocateAndFreeByOwner(t *testing.T) {
	sim := newTestDevice(t)
	sim.Init()
	s := nvstore.New(sim, nvstore.WithMaxKeys(16))
	mustInit(t, s)

	k, err := s.AllocateKey(9)
	if err != nil {
		t.Fatalf("AllocateKey: %v", err)
	}
	if err := s.Set(k, []byte("tok")); err != nil {
		t.Fatalf("Set allocated key: %v", err)
	}
	if err := s.FreeAllKeysByOwner(9); err != nil {
		t.Fatalf("FreeAllKeysByOwner: %v", err)
	}
	buf := make([]byte, 8)
	if _, err := s.Get(k, buf); err != nvstore.ErrNotFound {
		t.Fatalf("got %v after free, want ErrNotFound", err)
	}
}

func TestSetMaxKeysRejectsShrink(t *testing.T) {
	sim := newTestDevice(t)
	sim.Init()
	s := nvstore.New(sim, nvstore.WithMaxKeys(16))
	if err := s.SetMaxKeys(8); err != nvstore.ErrInvalidArgument {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
	if err := s.SetMaxKeys(32); err != nil {
		t.Fatalf("grow SetMaxKeys: %v", err)
	}
}
