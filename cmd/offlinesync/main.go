// Command offlinesync queues writes while offline and replays them when the
// network returns.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/offlinesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
