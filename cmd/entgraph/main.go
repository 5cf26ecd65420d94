// entgraph serves and inspects a journaled entity graph store
package main

import (
	"fmt"
	"os"

	"github.com/nainya/entgraph/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
