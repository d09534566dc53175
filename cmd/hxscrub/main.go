// Command hxscrub removes recent browsing history from local browser profiles.
package main

import (
	"os"

	"github.com/runnerr0/hxscrub/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// The parser has already printed err to stderr.
	if err := cli.Run(version); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
