// Package main is the entry point for the dispatchd coordinator and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/taskrelay/dispatchd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
