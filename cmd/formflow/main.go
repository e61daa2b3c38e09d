// FormFlow - Enrollment forms with A/B tests, fraud screening and capacity.
// Copyright (c) 2026 FormFlow contributors
// Licensed under the Apache License 2.0

package main

import (
	"os"

	"github.com/formflow/formflow/internal/cli"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := cli.Execute(cli.BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}); err != nil {
		os.Exit(1)
	}
}
