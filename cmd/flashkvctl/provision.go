package main

import (
	"encoding/hex"
	"fmt"
	"log"

	"github.com/brennawood/fkv/internal/config"
	"github.com/brennawood/fkv/pkg/kvstore"
)

func runInjectRoT(s *config.Stack, args []string) {
	if s.Keys == nil {
		log.Fatalf("inject-rot: store is not configured with a secure layer")
	}
	if len(args) != 1 {
		log.Fatalf("usage: inject-rot <hex-bytes>")
	}
	rot, err := hex.DecodeString(args[0])
	if err != nil {
		log.Fatalf("inject-rot: invalid hex: %v", err)
	}
	if !confirmDestructive("inject a new root-of-trust? this can never be undone") {
		fmt.Println("aborted")
		return
	}
	if err := s.Keys.InjectRootOfTrust(rot); err != nil {
		log.Fatalf("inject-rot: %v", err)
	}
	fmt.Println("root-of-trust injected")
}

// backupCapable is implemented by engines that support factory-default
// backup marking (currently only *tdbstore.Store).
type backupCapable interface {
	MarkBackup(key string) error
	FactoryReset() error
}

func resolveBackupCapable(s *config.Stack) backupCapable {
	if bc, ok := s.Store.(backupCapable); ok {
		return bc
	}
	// SecureStore wraps a TDBStore but doesn't itself expose
	// MarkBackup/FactoryReset; reach through to the layer that does.
	if wrapper, ok := s.Store.(interface{ Underlying() kvstore.Store }); ok {
		if bc, ok := wrapper.Underlying().(backupCapable); ok {
			return bc
		}
	}
	return nil
}

func runMarkBackup(s *config.Stack, args []string) {
	if len(args) != 1 {
		log.Fatalf("usage: mark-backup <key>")
	}
	bc := resolveBackupCapable(s)
	if bc == nil {
		log.Fatalf("mark-backup: underlying store does not support backups")
	}
	if err := bc.MarkBackup(args[0]); err != nil {
		log.Fatalf("mark-backup %q: %v", args[0], err)
	}
}

func runFactoryReset(s *config.Stack, args []string) {
	bc := resolveBackupCapable(s)
	if bc == nil {
		log.Fatalf("factory-reset: underlying store does not support backups")
	}
	if !confirmDestructive("factory reset: drop everything except backup-marked keys?") {
		fmt.Println("aborted")
		return
	}
	if err := bc.FactoryReset(); err != nil {
		log.Fatalf("factory-reset: %v", err)
	}
	fmt.Println("factory reset complete")
}
