// Package main is the entry point for the crewteam CLI.
package main

import (
	"fmt"
	"os"

	"github.com/runoshun/crewteam/internal/app"
	"github.com/runoshun/crewteam/internal/cli"
)

// version is set at build time using -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	// Config errors abort before any command runs.
	container, err := app.New(cwd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	return cli.NewRootCommand(container, version).Execute()
}
