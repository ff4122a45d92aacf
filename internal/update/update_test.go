package update_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/roach88/mercury/internal/exec"
	"github.com/roach88/mercury/internal/sparql"
	"github.com/roach88/mercury/internal/sparqlir"
	"github.com/roach88/mercury/internal/store"
	"github.com/roach88/mercury/internal/update"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func run(t *testing.T, st *store.Store, src string, opts ...update.Option) update.Result {
	t.Helper()
	u, err := sparql.ParseUpdate(src)
	require.NoError(t, err)
	res, err := update.NewExecutor(st, opts...).Execute(context.Background(), u)
	require.NoError(t, err)
	return res
}

func selectAll(t *testing.T, st *store.Store, src string) [][]string {
	t.Helper()
	q, err := sparql.ParseQuery(src)
	require.NoError(t, err)
	res, err := exec.Execute(context.Background(), st, q)
	require.NoError(t, err)
	defer res.Close()
	var rows [][]string
	for res.Next() {
		row := make([]string, len(res.Row()))
		for i, term := range res.Row() {
			if term.Kind == sparqlir.TermUndef {
				row[i] = ""
			} else {
				row[i] = string(exec.EncodeTerm(term))
			}
		}
		rows = append(rows, row)
	}
	require.NoError(t, res.Err())
	return rows
}

func TestInsertDeleteData(t *testing.T) {
	st := newStore(t)

	res := run(t, st, `INSERT DATA { <http://ex/a> <http://ex/p> "v" }`)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Affected)

	rows := selectAll(t, st, `SELECT ?o WHERE { <http://ex/a> <http://ex/p> ?o }`)
	require.Len(t, rows, 1)

	run(t, st, `DELETE DATA { <http://ex/a> <http://ex/p> "v" }`)
	rows = selectAll(t, st, `SELECT ?o WHERE { <http://ex/a> <http://ex/p> ?o }`)
	require.Empty(t, rows)
}

func TestModifyRewritesMatchingRows(t *testing.T) {
	st := newStore(t)
	run(t, st, `INSERT DATA {
		<http://ex/a> <http://ex/old> "1" .
		<http://ex/b> <http://ex/old> "2"
	}`)

	res := run(t, st, `
		DELETE { ?s <http://ex/old> ?o }
		INSERT { ?s <http://ex/new> ?o }
		WHERE { ?s <http://ex/old> ?o }`)
	require.Equal(t, 4, res.Affected) // two deletes, two inserts

	require.Empty(t, selectAll(t, st, `SELECT ?o WHERE { ?s <http://ex/old> ?o }`))
	require.Len(t, selectAll(t, st, `SELECT ?o WHERE { ?s <http://ex/new> ?o }`), 2)
}

func TestModifyWithScopesWhereAndTemplates(t *testing.T) {
	st := newStore(t)
	run(t, st, `INSERT DATA {
		GRAPH <http://ex/g> { <http://ex/a> <http://ex/p> "in-graph" }
		<http://ex/a> <http://ex/p> "in-default"
	}`)

	run(t, st, `WITH <http://ex/g> DELETE { <http://ex/a> <http://ex/p> ?o } WHERE { <http://ex/a> <http://ex/p> ?o }`)

	// Only the named-graph quad went away.
	require.Empty(t, selectAll(t, st, `SELECT ?o WHERE { GRAPH <http://ex/g> { <http://ex/a> <http://ex/p> ?o } }`))
	require.Len(t, selectAll(t, st, `SELECT ?o WHERE { <http://ex/a> <http://ex/p> ?o }`), 1)
}

func TestInsertTemplateBlankNodesFreshPerSolution(t *testing.T) {
	st := newStore(t)
	run(t, st, `INSERT DATA {
		<http://ex/a> <http://ex/p> "1" .
		<http://ex/b> <http://ex/p> "2"
	}`)

	run(t, st, `INSERT { ?s <http://ex/via> _:node . _:node <http://ex/val> ?o } WHERE { ?s <http://ex/p> ?o }`)

	// Two solutions, each with its own blank node: joining via the
	// blank keeps the pairs separate.
	rows := selectAll(t, st, `SELECT ?s ?o WHERE { ?s <http://ex/via> ?n . ?n <http://ex/val> ?o }`)
	require.Len(t, rows, 2)
}

func TestDeleteWhereMultipleGraphs(t *testing.T) {
	st := newStore(t)
	run(t, st, `INSERT DATA {
		<http://ex/a> <http://ex/p> "d" .
		GRAPH <http://ex/g> { <http://ex/a> <http://ex/p> "g" }
	}`)

	run(t, st, `DELETE WHERE {
		<http://ex/a> <http://ex/p> ?o .
		GRAPH <http://ex/g> { <http://ex/a> <http://ex/p> ?o2 }
	}`)

	require.Empty(t, selectAll(t, st, `SELECT ?o WHERE { <http://ex/a> <http://ex/p> ?o }`))
	require.Empty(t, selectAll(t, st, `SELECT ?o WHERE { GRAPH <http://ex/g> { ?s ?p ?o } }`))
}

func TestClearDefaultAndAll(t *testing.T) {
	st := newStore(t)
	run(t, st, `INSERT DATA {
		<http://ex/a> <http://ex/p> "d" .
		GRAPH <http://ex/g> { <http://ex/b> <http://ex/q> "g" }
	}`)

	run(t, st, `CLEAR DEFAULT`)
	require.Empty(t, selectAll(t, st, `SELECT * WHERE { ?s ?p ?o }`))
	require.Len(t, selectAll(t, st, `SELECT * WHERE { GRAPH ?g { ?s ?p ?o } }`), 1)

	run(t, st, `CLEAR ALL`)
	require.Empty(t, selectAll(t, st, `SELECT * WHERE { GRAPH ?g { ?s ?p ?o } }`))
}

func TestMoveReplacesDestinationAndEmptiesSource(t *testing.T) {
	st := newStore(t)
	run(t, st, `INSERT DATA {
		GRAPH <http://ex/src> { <http://ex/a> <http://ex/p> "s" }
		GRAPH <http://ex/dst> { <http://ex/b> <http://ex/q> "old" }
	}`)

	run(t, st, `MOVE GRAPH <http://ex/src> TO GRAPH <http://ex/dst>`)

	require.Empty(t, selectAll(t, st, `SELECT * WHERE { GRAPH <http://ex/src> { ?s ?p ?o } }`))
	rows := selectAll(t, st, `SELECT ?s WHERE { GRAPH <http://ex/dst> { ?s ?p ?o } }`)
	require.Equal(t, [][]string{{"<http://ex/a>"}}, rows)
}

func TestAddAccumulates(t *testing.T) {
	st := newStore(t)
	run(t, st, `INSERT DATA {
		<http://ex/a> <http://ex/p> "d" .
		GRAPH <http://ex/dst> { <http://ex/b> <http://ex/q> "kept" }
	}`)

	run(t, st, `ADD DEFAULT TO GRAPH <http://ex/dst>`)
	require.Len(t, selectAll(t, st, `SELECT * WHERE { GRAPH <http://ex/dst> { ?s ?p ?o } }`), 2)
}

func TestLoadWithoutLoaderFails(t *testing.T) {
	st := newStore(t)
	u, err := sparql.ParseUpdate(`LOAD <http://ex/doc.ttl>`)
	require.NoError(t, err)
	_, err = update.NewExecutor(st).Execute(context.Background(), u)
	require.Error(t, err)

	// SILENT degrades to a no-op.
	u, err = sparql.ParseUpdate(`LOAD SILENT <http://ex/doc.ttl>`)
	require.NoError(t, err)
	res, err := update.NewExecutor(st).Execute(context.Background(), u)
	require.NoError(t, err)
	require.Equal(t, 0, res.Affected)
}

func TestLoaderErrorAbortsTransaction(t *testing.T) {
	st := newStore(t)
	loader := func(ctx context.Context, iri string, emit func(s, p, o []byte, g ...[]byte) error) error {
		if err := emit([]byte("<http://ex/x>"), []byte("<http://ex/p>"), []byte(`"1"`)); err != nil {
			return err
		}
		return errors.New("parse failure mid-document")
	}
	u, err := sparql.ParseUpdate(`LOAD <http://ex/doc.ttl>`)
	require.NoError(t, err)
	_, err = update.NewExecutor(st, update.WithLoader(loader)).Execute(context.Background(), u)
	require.Error(t, err)

	// The aborted transaction left nothing behind.
	require.Empty(t, selectAll(t, st, `SELECT * WHERE { ?s ?p ?o }`))
}

func TestSequenceStopsAtFirstFailure(t *testing.T) {
	st := newStore(t)
	u, err := sparql.ParseUpdate(fmt.Sprintf(
		`INSERT DATA { <http://ex/a> <http://ex/p> "1" } ; CREATE GRAPH <%s> ; INSERT DATA { <http://ex/b> <http://ex/p> "2" }`,
		"http://ex/missing-is-fine"))
	require.NoError(t, err)

	// CREATE on a fresh graph succeeds, so all three run.
	res, err := update.NewExecutor(st).Execute(context.Background(), u)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Len(t, selectAll(t, st, `SELECT * WHERE { ?s ?p ?o }`), 2)

	// A failing middle operation stops the sequence but keeps earlier
	// effects.
	u, err = sparql.ParseUpdate(
		`INSERT DATA { GRAPH <http://ex/g> { <http://ex/c> <http://ex/p> "3" } } ; CREATE GRAPH <http://ex/g> ; INSERT DATA { <http://ex/d> <http://ex/p> "4" }`)
	require.NoError(t, err)
	_, err = update.NewExecutor(st).Execute(context.Background(), u)
	require.Error(t, err)
	var ge *update.GraphError
	require.ErrorAs(t, err, &ge)

	require.Len(t, selectAll(t, st, `SELECT * WHERE { GRAPH <http://ex/g> { ?s ?p ?o } }`), 1)
	require.Empty(t, selectAll(t, st, `SELECT ?o WHERE { <http://ex/d> <http://ex/p> ?o }`))
}
