package main

import (
	"os"

	"github.com/go-delve/stardbg/cmd/stardbg/cmds"
	"github.com/go-delve/stardbg/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.StardbgVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
