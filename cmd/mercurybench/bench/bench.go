package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/mercury/internal/mercury"
)

// RootOptions holds global flags for all subcommands.
type RootOptions struct {
	Dir     string
	Verbose bool
}

// NewRootCommand creates the root command for mercurybench.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "mercurybench",
		Short:         "Benchmark harness for the Mercury quad store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Dir, "dir", "", "store directory (temporary when empty)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newLoadCommand(opts))
	cmd.AddCommand(newQueryCommand(opts))

	return cmd
}

func openStore(opts *RootOptions) (*mercury.Store, func(), error) {
	dir := opts.Dir
	cleanup := func() {}
	if dir == "" {
		tmp, err := newTempDir()
		if err != nil {
			return nil, nil, err
		}
		dir = tmp.path
		cleanup = tmp.remove
	}
	s, err := mercury.Open(dir)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return s, func() {
		_ = s.Close()
		cleanup()
	}, nil
}

func newLoadCommand(rootOpts *RootOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Bulk-insert synthetic quads and report throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer done()

			start := time.Now()
			for i := 0; i < count; i++ {
				subject := fmt.Sprintf("<http://bench/s%d>", i%1000)
				predicate := fmt.Sprintf("<http://bench/p%d>", i%10)
				object := fmt.Sprintf(`"%d"^^<http://www.w3.org/2001/XMLSchema#integer>`, i)
				if err := s.AddCurrent([]byte(subject), []byte(predicate), []byte(object)); err != nil {
					return err
				}
			}
			elapsed := time.Since(start)
			fmt.Fprintf(cmd.OutOrStdout(), "inserted %d quads in %s (%.0f quads/s)\n",
				count, elapsed, float64(count)/elapsed.Seconds())
			return s.Checkpoint()
		},
	}
	cmd.Flags().IntVar(&count, "count", 10000, "number of quads to insert")
	return cmd
}

func newQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		iterations int
		queryText  string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a query repeatedly and report latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, done, err := openStore(rootOpts)
			if err != nil {
				return err
			}
			defer done()

			ctx := context.Background()
			var rows int
			start := time.Now()
			for i := 0; i < iterations; i++ {
				res, err := s.ExecuteQuery(ctx, queryText)
				if err != nil {
					return err
				}
				rows = 0
				for res.Next() {
					rows++
				}
				if err := res.Err(); err != nil {
					res.Close()
					return err
				}
				res.Close()
			}
			elapsed := time.Since(start)
			fmt.Fprintf(cmd.OutOrStdout(), "%d iterations, %d rows each, %s total (%.2fms/query)\n",
				iterations, rows, elapsed, float64(elapsed.Milliseconds())/float64(iterations))
			return nil
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 100, "query repetitions")
	cmd.Flags().StringVar(&queryText, "query", "SELECT * WHERE { ?s ?p ?o } LIMIT 100", "SPARQL query to run")
	return cmd
}
