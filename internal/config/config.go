// Package config loads the YAML document describing one flashkv store
// stack: device geometry, the backing image path, and which engines are
// layered on top (rollback protection, confidentiality).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level store-stack document.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Store   StoreConfig   `yaml:"store"`
	Secure  *SecureConfig `yaml:"secure,omitempty"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

// DeviceConfig describes the backing flash image and its geometry.
type DeviceConfig struct {
	ImageFile     string   `yaml:"image_file"`
	Size          uint32   `yaml:"size"`
	EraseSizes    []uint32 `yaml:"erase_sizes"`
	ProgramSize   uint32   `yaml:"program_size"`
	EraseValue    *byte    `yaml:"erase_value"`
	HasEraseValue bool     `yaml:"has_erase_value"`
}

// StoreConfig describes the TDBStore engine that sits at the top of the
// stack (the one callers actually Get/Set against). Build does not pass
// these limits to the engine; TDBStore applies its own fixed limits.
type StoreConfig struct {
	MaxKeySize  uint32 `yaml:"max_key_size,omitempty"`
	MaxDataSize uint32 `yaml:"max_data_size,omitempty"`
}

// SecureConfig enables the SecureStore layer over the TDBStore, and the
// separate NVStore domain used for rollback-protection tokens.
type SecureConfig struct {
	KeyImageFile string `yaml:"key_image_file"`
	RBPImageFile string `yaml:"rbp_image_file"`
	RBPMaxKeys   int    `yaml:"rbp_max_keys"`
}

// RuntimeConfig holds process-wide knobs unrelated to any one engine.
type RuntimeConfig struct {
	LogLevel       string `yaml:"log_level"`
	ProgramRetries int    `yaml:"program_retries,omitempty"`
}

// Load reads, decodes and validates the config document at path, resolving
// relative file paths against path's directory.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the document describes a usable store stack.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.ImageFile) == "" {
		return fmt.Errorf("config.device.image_file is required")
	}
	if c.Device.Size == 0 {
		return fmt.Errorf("config.device.size must be > 0")
	}
	if len(c.Device.EraseSizes) == 0 {
		return fmt.Errorf("config.device.erase_sizes must have at least one entry")
	}
	for i, sz := range c.Device.EraseSizes {
		if sz == 0 {
			return fmt.Errorf("config.device.erase_sizes[%d] must be > 0", i)
		}
	}
	if c.Device.ProgramSize == 0 {
		return fmt.Errorf("config.device.program_size must be > 0")
	}
	if c.Device.HasEraseValue && c.Device.EraseValue == nil {
		return fmt.Errorf("config.device.erase_value is required when has_erase_value is true")
	}

	if c.Secure != nil {
		if strings.TrimSpace(c.Secure.KeyImageFile) == "" {
			return fmt.Errorf("config.secure.key_image_file is required when secure is configured")
		}
		if c.Secure.RBPImageFile != "" && c.Secure.RBPMaxKeys <= 0 {
			return fmt.Errorf("config.secure.rbp_max_keys must be > 0 when rbp_image_file is set")
		}
	}

	switch strings.ToLower(c.Runtime.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.runtime.log_level %q is not one of debug/info/warn/error", c.Runtime.LogLevel)
	}
	if c.Runtime.ProgramRetries < 0 {
		return fmt.Errorf("config.runtime.program_retries must be >= 0")
	}

	return nil
}

func (c *Config) resolvePaths(configPath string) {
	dir := filepath.Dir(configPath)
	c.Device.ImageFile = resolvePath(dir, c.Device.ImageFile)
	if c.Secure != nil {
		c.Secure.KeyImageFile = resolvePath(dir, c.Secure.KeyImageFile)
		c.Secure.RBPImageFile = resolvePath(dir, c.Secure.RBPImageFile)
	}
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}
