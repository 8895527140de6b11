// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package main

import (
	"fmt"
	"os"

	"github.com/vulntor/skewprint/cmd/skewprint/commands"
	"github.com/vulntor/skewprint/pkg/tracking"
)

// main runs the skewprint CLI.
//
// Exit codes:
//   - 0: Success
//   - 1: General or capture failure
//   - 2: Invalid usage (no sample source, invalid configuration)
func main() {
	command := commands.NewCommand()

	if err := command.Execute(); err != nil {
		for _, hint := range tracking.Suggestions(err) {
			fmt.Fprintln(os.Stderr, "  "+hint)
		}
		os.Exit(tracking.ExitCode(err))
	}
}
