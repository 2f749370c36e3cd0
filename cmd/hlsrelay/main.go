// Package main is the entry point for hlsrelay.
package main

import (
	"os"

	"github.com/jmylchreest/hlsrelay/cmd/hlsrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
