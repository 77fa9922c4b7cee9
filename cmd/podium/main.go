// Command podium is the terminal client for live debates.
package main

import (
	"fmt"
	"os"

	"podium/cmd/internal/app"
)

func main() {
	if err := app.RunTerminal(); err != nil {
		// The TUI owns the terminal until it exits, so report after it has restored the screen.
		fmt.Fprintln(os.Stderr, "podium:", err)
		os.Exit(1)
	}
}
