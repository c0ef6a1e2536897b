// Command dnswatch captures DNS trace events into a local SQLite store and
// keeps that store bounded by retention, size and backup rotation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dnswatch: %v\n", err)
		os.Exit(1)
	}
}
