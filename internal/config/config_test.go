package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/brennawood/fkv/internal/config"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "store.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMinimalConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
device:
  image_file: flash.img
  size: 16384
  erase_sizes: [1024]
  program_size: 16
  erase_value: 255
  has_erase_value: true
runtime:
  log_level: info
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Size != 16384 {
		t.Fatalf("got size %d, want 16384", cfg.Device.Size)
	}
	want := filepath.Join(dir, "flash.img")
	if cfg.Device.ImageFile != want {
		t.Fatalf("got image_file %q, want %q", cfg.Device.ImageFile, want)
	}
	if cfg.Secure != nil {
		t.Fatalf("expected no secure layer configured")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
device:
  image_file: flash.img
  size: 16384
  erase_sizes: [1024]
  program_size: 16
  erase_value: 255
  has_erase_value: true
unknown_top_level_field: true
`)
	if _, err := config.Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRejectsMissingEraseValueWhenFlashBacked(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
device:
  image_file: flash.img
  size: 16384
  erase_sizes: [1024]
  program_size: 16
  has_erase_value: true
`)
	if _, err := config.Load(path); err == nil {
		t.Fatalf("expected error for missing erase_value")
	}
}

func TestLoadResolvesSecurePaths(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
device:
  image_file: flash.img
  size: 16384
  erase_sizes: [1024]
  program_size: 16
  erase_value: 255
  has_erase_value: true
secure:
  key_image_file: keys.img
  rbp_image_file: rbp.img
  rbp_max_keys: 32
`)
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Secure == nil {
		t.Fatalf("expected secure layer configured")
	}
	if cfg.Secure.KeyImageFile != filepath.Join(dir, "keys.img") {
		t.Fatalf("got key_image_file %q", cfg.Secure.KeyImageFile)
	}
	if cfg.Secure.RBPImageFile != filepath.Join(dir, "rbp.img") {
		t.Fatalf("got rbp_image_file %q", cfg.Secure.RBPImageFile)
	}
}

func TestLoadRejectsSecureWithoutRBPMaxKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
device:
  image_file: flash.img
  size: 16384
  erase_sizes: [1024]
  program_size: 16
  erase_value: 255
  has_erase_value: true
secure:
  key_image_file: keys.img
  rbp_image_file: rbp.img
`)
	if _, err := config.Load(path); err == nil {
		t.Fatalf("expected error for rbp_image_file without rbp_max_keys")
	}
}
