package config

import (
	"fmt"

	"github.com/brennawood/fkv/pkg/blockdevice"
	"github.com/brennawood/fkv/pkg/devicekey"
	"github.com/brennawood/fkv/pkg/kvstore"
	"github.com/brennawood/fkv/pkg/nvstore"
	"github.com/brennawood/fkv/pkg/securestore"
	"github.com/brennawood/fkv/pkg/tdbstore"
)

// Stack is the fully wired set of engines a config document describes.
// Store is always present; Keys and RBP are non-nil only when Secure is
// configured.
type Stack struct {
	Store kvstore.Store
	Keys  *devicekey.Store
	RBP   *nvstore.Store
}

// Build opens the backing image file(s) named in c and layers the engines
// c describes on top, initializing each in turn. The returned Stack.Store
// is a *securestore.Store when c.Secure is set, otherwise the bare
// *tdbstore.Store.
func Build(c *Config) (*Stack, error) {
	deviceCfg := blockdevice.Config{
		Size:          c.Device.Size,
		EraseSizes:    c.Device.EraseSizes,
		ProgramSize:   c.Device.ProgramSize,
		HasEraseValue: c.Device.HasEraseValue,
	}
	if c.Device.EraseValue != nil {
		deviceCfg.EraseValue = *c.Device.EraseValue
	}
	bd, err := blockdevice.NewFile(c.Device.ImageFile, deviceCfg)
	if err != nil {
		return nil, fmt.Errorf("open device image: %w", err)
	}
	if err := bd.Init(); err != nil {
		return nil, fmt.Errorf("init device: %w", err)
	}

	var underlying blockdevice.BlockDevice = bd
	if !c.Device.HasEraseValue {
		underlying = blockdevice.WrapNonFlash(bd)
	}

	tdb := tdbstore.New(underlying)
	if err := tdb.Init(); err != nil {
		return nil, fmt.Errorf("init tdbstore: %w", err)
	}

	stack := &Stack{Store: tdb}
	if c.Secure == nil {
		return stack, nil
	}

	keyBD, err := blockdevice.NewFile(c.Secure.KeyImageFile, deviceCfg)
	if err != nil {
		return nil, fmt.Errorf("open key image: %w", err)
	}
	if err := keyBD.Init(); err != nil {
		return nil, fmt.Errorf("init key device: %w", err)
	}
	keyNV := nvstore.New(keyBD, nvstore.WithMaxKeys(4))
	if err := keyNV.Init(); err != nil {
		return nil, fmt.Errorf("init key nvstore: %w", err)
	}
	stack.Keys = devicekey.New(keyNV)

	opts := []securestore.Option{}
	if c.Secure.RBPImageFile != "" {
		rbpBD, err := blockdevice.NewFile(c.Secure.RBPImageFile, deviceCfg)
		if err != nil {
			return nil, fmt.Errorf("open rbp image: %w", err)
		}
		if err := rbpBD.Init(); err != nil {
			return nil, fmt.Errorf("init rbp device: %w", err)
		}
		rbp := nvstore.New(rbpBD, nvstore.WithMaxKeys(c.Secure.RBPMaxKeys))
		if err := rbp.Init(); err != nil {
			return nil, fmt.Errorf("init rbp nvstore: %w", err)
		}
		stack.RBP = rbp
		opts = append(opts, securestore.WithRollbackProtection(rbp))
	}

	stack.Store = securestore.New(tdb, stack.Keys, opts...)
	return stack, nil
}
