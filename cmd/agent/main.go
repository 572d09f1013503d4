package main

import "github.com/oxygenupdater/ota-agent/internal/cli"

// version is set at build time with -ldflags "-X main.version=...".
var version = "0.0.0-dev"

func main() {
	cli.Execute(version)
}
