// Command graffiti runs the graffiti live-query server and its tooling.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/graffiti/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
