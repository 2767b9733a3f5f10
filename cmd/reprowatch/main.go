// Command reprowatch publishes Nostr reproducibility attestations for
// IzzyOnDroid builds.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/reprowatch/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
