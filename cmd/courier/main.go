// Package main is the entry point for the courier CLI application.
package main

import (
	"fmt"
	"os"

	"github.com/laibrary/courier/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
