// Command smartfork is the CLI entry point for semantic session recall.
package main

import (
	"fmt"
	"os"

	"github.com/recursive-vibe/smart-fork/cmd/smartfork/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
