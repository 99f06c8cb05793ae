// Command flashkvctl is an operator CLI over a configured flashkv store
// stack: get/set/remove/iterate keys, provision a rollback-protected
// device root-of-trust, mark/restore factory-default backups, and print
// basic stats.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/brennawood/fkv/internal/config"
	"github.com/brennawood/fkv/pkg/kvstore"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "flashkv.yaml", "path to store config")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	stack, err := config.Build(cfg)
	if err != nil {
		log.Fatalf("store stack init failed: %v", err)
	}

	cmd, cmdArgs := args[0], args[1:]
	switch cmd {
	case "get":
		runGet(stack, cmdArgs)
	case "set":
		runSet(stack, cmdArgs)
	case "remove":
		runRemove(stack, cmdArgs)
	case "iterate":
		runIterate(stack, cmdArgs)
	case "inject-rot":
		runInjectRoT(stack, cmdArgs)
	case "mark-backup":
		runMarkBackup(stack, cmdArgs)
	case "factory-reset":
		runFactoryReset(stack, cmdArgs)
	case "stats":
		runStats(stack, cmdArgs)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: flashkvctl [-config path] [-v] [-log-format text|json] <command> [args]

commands:
  get <key>                 print the value for key
  set <key> <value> [flags] write value under key (flags: writeonce,confidential,rp)
  remove <key>               delete key
  iterate [prefix]           list live keys matching prefix
  inject-rot <hex-bytes>     inject a device root-of-trust (16 or 32 bytes, hex-encoded)
  mark-backup <key>          mark key's current value as the factory-default backup
  factory-reset              restore all backup-marked keys, drop everything else
  stats                      print basic store stats`)
}

const maxValueSize = 256 * 1024

func runGet(s *config.Stack, args []string) {
	if len(args) != 1 {
		log.Fatalf("usage: get <key>")
	}
	buf := make([]byte, maxValueSize)
	n, _, err := s.Store.Get(args[0], buf, 0)
	if err != nil {
		log.Fatalf("get %q: %v", args[0], err)
	}
	os.Stdout.Write(buf[:n])
	fmt.Println()
}

func runSet(s *config.Stack, args []string) {
	if len(args) < 2 {
		log.Fatalf("usage: set <key> <value> [flags]")
	}
	var flags kvstore.Flags
	if len(args) > 2 {
		flags = parseFlags(args[2])
	}
	if err := s.Store.Set(args[0], []byte(args[1]), flags); err != nil {
		log.Fatalf("set %q: %v", args[0], err)
	}
}

func parseFlags(spec string) kvstore.Flags {
	var f kvstore.Flags
	for _, tok := range splitComma(spec) {
		switch tok {
		case "writeonce":
			f |= kvstore.WriteOnce
		case "confidential":
			f |= kvstore.RequireConfidentiality
		case "rp":
			f |= kvstore.RequireReplayProtection
		case "":
		default:
			log.Fatalf("unknown flag %q", tok)
		}
	}
	return f
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}

func runRemove(s *config.Stack, args []string) {
	if len(args) != 1 {
		log.Fatalf("usage: remove <key>")
	}
	if !confirmDestructive(fmt.Sprintf("remove %q?", args[0])) {
		fmt.Println("aborted")
		return
	}
	if err := s.Store.Remove(args[0]); err != nil {
		log.Fatalf("remove %q: %v", args[0], err)
	}
}

func runIterate(s *config.Stack, args []string) {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	it, err := s.Store.IteratorOpen(prefix)
	if err != nil {
		log.Fatalf("iterate: %v", err)
	}
	defer it.Close()
	for it.Next() {
		fmt.Println(it.Key())
	}
	if err := it.Err(); err != nil {
		log.Fatalf("iterate: %v", err)
	}
}

func runStats(s *config.Stack, args []string) {
	it, err := s.Store.IteratorOpen("")
	if err != nil {
		log.Fatalf("stats: %v", err)
	}
	defer it.Close()
	count := 0
	for it.Next() {
		count++
	}
	if err := it.Err(); err != nil {
		log.Fatalf("stats: %v", err)
	}
	fmt.Printf("live keys: %d\n", count)
	fmt.Printf("rollback protection: %v\n", s.RBP != nil)
	fmt.Printf("confidentiality/key store: %v\n", s.Keys != nil)
}
