package mercury

import (
	"context"
	"testing"

	"github.com/roach88/mercury/internal/sparqlir"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func rowsOf(t *testing.T, res *QueryResults) [][]string {
	t.Helper()
	defer res.Close()
	var out [][]string
	for res.Next() {
		row := make([]string, len(res.Row()))
		for i, term := range res.Row() {
			if term.Kind == sparqlir.TermUndef {
				row[i] = ""
			} else {
				row[i] = term.Value
			}
		}
		out = append(out, row)
	}
	require.NoError(t, res.Err())
	return out
}

func TestQueryAfterUpdate(t *testing.T) {
	s := openTestStore(t)

	res, err := s.ExecuteUpdate(context.Background(), `INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> }`)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Affected)

	qr, err := s.ExecuteQuery(context.Background(), `SELECT ?o WHERE { <http://ex/a> <http://ex/p> ?o }`)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"http://ex/b"}}, rowsOf(t, qr))
}

func TestParseErrorsSurfaceFromEntryPoints(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ExecuteQuery(context.Background(), `SELECT WHERE`)
	require.Error(t, err)

	_, err = s.ExecuteUpdate(context.Background(), `INSERT DATA { ?var <http://ex/p> 1 }`)
	require.Error(t, err)
}

func TestRawAddAndSoftDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AddCurrent([]byte("<http://ex/a>"), []byte("<http://ex/p>"), []byte("<http://ex/b>")))
	require.NoError(t, s.AddCurrent([]byte("<http://ex/a>"), []byte("<http://ex/p>"), []byte("<http://ex/c>")))
	require.NoError(t, s.SoftDelete([]byte("<http://ex/a>"), []byte("<http://ex/p>"), []byte("<http://ex/c>")))

	qr, err := s.ExecuteQuery(context.Background(), `SELECT ?o WHERE { <http://ex/a> <http://ex/p> ?o }`)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"http://ex/b"}}, rowsOf(t, qr))
}

func TestGetNamedGraphs(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ExecuteUpdate(context.Background(), `INSERT DATA {
		<http://ex/a> <http://ex/p> <http://ex/b> .
		GRAPH <http://ex/g1> { <http://ex/x> <http://ex/y> <http://ex/z> }
	}`)
	require.NoError(t, err)

	graphs, err := s.GetNamedGraphs()
	require.NoError(t, err)
	require.Equal(t, []string{"http://ex/g1"}, graphs)
}

func TestLoadDelegatesToLoader(t *testing.T) {
	loader := func(ctx context.Context, iri string, emit func(s, p, o []byte, g ...[]byte) error) error {
		return emit([]byte("<http://ex/loaded>"), []byte("<http://ex/p>"), []byte(`"v"`))
	}
	s, err := Open(t.TempDir(), WithLoader(loader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	res, err := s.ExecuteUpdate(context.Background(), `LOAD <http://ex/doc.ttl> INTO GRAPH <http://ex/g>`)
	require.NoError(t, err)
	require.Equal(t, 1, res.Affected)

	qr, err := s.ExecuteQuery(context.Background(), `SELECT ?s WHERE { GRAPH <http://ex/g> { ?s <http://ex/p> ?o } }`)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"http://ex/loaded"}}, rowsOf(t, qr))
}

func TestGraphManagement(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ExecuteUpdate(context.Background(), `INSERT DATA { GRAPH <http://ex/g> { <http://ex/a> <http://ex/p> <http://ex/b> } }`)
	require.NoError(t, err)

	// CREATE on an existing graph fails without SILENT.
	_, err = s.ExecuteUpdate(context.Background(), `CREATE GRAPH <http://ex/g>`)
	require.Error(t, err)
	_, err = s.ExecuteUpdate(context.Background(), `CREATE SILENT GRAPH <http://ex/g>`)
	require.NoError(t, err)

	// COPY replaces the destination with the default graph contents.
	_, err = s.ExecuteUpdate(context.Background(), `INSERT DATA { <http://ex/d> <http://ex/p> <http://ex/e> }`)
	require.NoError(t, err)
	_, err = s.ExecuteUpdate(context.Background(), `COPY DEFAULT TO GRAPH <http://ex/g>`)
	require.NoError(t, err)

	qr, err := s.ExecuteQuery(context.Background(), `SELECT ?s WHERE { GRAPH <http://ex/g> { ?s ?p ?o } }`)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"http://ex/d"}}, rowsOf(t, qr))

	// DROP on a missing graph errors, unless SILENT.
	_, err = s.ExecuteUpdate(context.Background(), `DROP GRAPH <http://ex/never>`)
	require.Error(t, err)
	_, err = s.ExecuteUpdate(context.Background(), `DROP SILENT GRAPH <http://ex/never>`)
	require.NoError(t, err)

	_, err = s.ExecuteUpdate(context.Background(), `DROP GRAPH <http://ex/g>`)
	require.NoError(t, err)
	qr, err = s.ExecuteQuery(context.Background(), `SELECT ?s WHERE { GRAPH <http://ex/g> { ?s ?p ?o } }`)
	require.NoError(t, err)
	require.Empty(t, rowsOf(t, qr))
}

// Copy/switch compaction: copy the live quads of the active store into
// a secondary, switch the names, and clear the retired store.
func TestPoolCopySwitchCompaction(t *testing.T) {
	p, err := OpenPool(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	primary, err := p.Create("primary")
	require.NoError(t, err)
	secondary, err := p.Create("secondary")
	require.NoError(t, err)
	require.NoError(t, p.SetActive("primary"))

	_, err = primary.ExecuteUpdate(context.Background(), `INSERT DATA {
		<http://ex/a> <http://ex/p> <http://ex/b> .
		<http://ex/a> <http://ex/p> <http://ex/c>
	}`)
	require.NoError(t, err)
	_, err = primary.ExecuteUpdate(context.Background(), `DELETE DATA { <http://ex/a> <http://ex/p> <http://ex/c> }`)
	require.NoError(t, err)

	copied, err := primary.CopyVisibleTo(secondary)
	require.NoError(t, err)
	require.Equal(t, 1, copied)

	require.NoError(t, p.Switch("primary", "secondary"))
	require.Equal(t, "primary", p.Active())

	active, err := p.Get("primary")
	require.NoError(t, err)
	qr, err := active.ExecuteQuery(context.Background(), `SELECT ?o WHERE { <http://ex/a> <http://ex/p> ?o }`)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"http://ex/b"}}, rowsOf(t, qr))

	// The retired store still holds the tombstoned history until
	// cleared.
	retired, err := p.Get("secondary")
	require.NoError(t, err)
	require.NoError(t, retired.ClearAll())
	qr, err = retired.ExecuteQuery(context.Background(), `SELECT * WHERE { ?s ?p ?o }`)
	require.NoError(t, err)
	require.Empty(t, rowsOf(t, qr))
}

func TestTempStoreRentReturn(t *testing.T) {
	p, err := OpenPool(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	tmp, err := p.Rent()
	require.NoError(t, err)

	_, err = tmp.Store().ExecuteUpdate(context.Background(), `INSERT DATA { <http://ex/t> <http://ex/p> <http://ex/v> }`)
	require.NoError(t, err)

	qr, err := tmp.Store().ExecuteQuery(context.Background(), `SELECT ?o WHERE { <http://ex/t> <http://ex/p> ?o }`)
	require.NoError(t, err)
	require.Len(t, rowsOf(t, qr), 1)

	require.NoError(t, tmp.Return())
}

func TestCompactReclaimsSoftDeletes(t *testing.T) {
	s := openTestStore(t)

	_, err := s.ExecuteUpdate(context.Background(), `INSERT DATA { <http://ex/a> <http://ex/p> <http://ex/b> }`)
	require.NoError(t, err)
	_, err = s.ExecuteUpdate(context.Background(), `DELETE DATA { <http://ex/a> <http://ex/p> <http://ex/b> }`)
	require.NoError(t, err)

	require.NoError(t, s.Checkpoint())
	require.NoError(t, s.Compact(^uint64(0)))

	qr, err := s.ExecuteQuery(context.Background(), `SELECT * WHERE { ?s ?p ?o }`)
	require.NoError(t, err)
	require.Empty(t, rowsOf(t, qr))
}
