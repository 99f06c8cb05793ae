// Command flashsimtool creates and resizes file-backed flash-simulator
// images for local testing against pkg/blockdevice.FlashSim, without
// needing real hardware.
package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"
)

func main() {
	size := flag.Uint32("size", 0, "image size in bytes (required)")
	eraseValue := flag.Uint8("erase-value", 0xFF, "byte value an erased region reads back as")
	out := flag.StringP("out", "o", "", "output image path (required)")
	flag.Parse()

	if *size == 0 || *out == "" {
		fmt.Fprintln(os.Stderr, "usage: flashsimtool --size N --out path [--erase-value 0xFF]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := createImage(*out, *size, byte(*eraseValue)); err != nil {
		fmt.Fprintf(os.Stderr, "flashsimtool: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d-byte image to %s\n", *size, *out)
}

// createImage writes a size-byte image filled with eraseValue, using a
// temp-file-plus-rename so a crash mid-write never leaves a half-written
// backing file for a later FlashSim.Init to trip over.
func createImage(path string, size uint32, eraseValue byte) error {
	buf := bytes.Repeat([]byte{eraseValue}, int(size))
	return atomic.WriteFile(path, bytes.NewReader(buf))
}
