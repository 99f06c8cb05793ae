package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// confirmDestructive prompts prompt and reads a single raw keypress,
// defaulting to "no" on anything but 'y'/'Y'. Modeled on keyswap's
// selectMenu raw-mode read loop, reduced to a single yes/no keypress
// instead of an arrow-driven menu.
func confirmDestructive(prompt string) bool {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		// Not an interactive terminal (e.g. piped input in a script) — fall
		// back to refusing, since a destructive op should never silently
		// proceed without a human in the loop.
		fmt.Fprintf(os.Stderr, "%s [y/N] (non-interactive stdin, assuming no)\n", prompt)
		return false
	}
	defer term.Restore(fd, oldState)

	fmt.Printf("%s [y/N] ", prompt)
	buf := make([]byte, 1)
	n, err := os.Stdin.Read(buf)
	fmt.Print("\r\n")
	if err != nil || n != 1 {
		return false
	}
	return buf[0] == 'y' || buf[0] == 'Y'
}
