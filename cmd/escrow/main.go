// Package main is the single-binary entrypoint for the escrow node and CLI.
package main

import (
	"github.com/tutu-network/escrow/internal/api"
	"github.com/tutu-network/escrow/internal/cli"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	api.Version = version
	cli.Execute(version)
}
