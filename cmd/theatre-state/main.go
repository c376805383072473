// Command theatre-state loads studio state from YAML files, applies edits to
// it and prints what the watched values became.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
