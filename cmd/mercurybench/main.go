// Command mercurybench exercises the public store surface: bulk-load
// synthetic quads, run a query workload, report timings. It is a
// measurement harness, not a user-facing CLI.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/mercury/cmd/mercurybench/bench"
)

func main() {
	if err := bench.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
