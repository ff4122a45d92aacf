package exec_test

import (
	"bytes"
	"fmt"
	"os"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// scenario is one YAML-driven conformance case.
type scenario struct {
	Name  string     `yaml:"name"`
	Setup []string   `yaml:"setup"`
	Query string     `yaml:"query"`
	Want  [][]string `yaml:"want"`
}

func loadScenarios(t *testing.T) []scenario {
	t.Helper()
	raw, err := os.ReadFile("testdata/scenarios.yaml")
	require.NoError(t, err)
	var out []scenario
	require.NoError(t, yaml.Unmarshal(raw, &out))
	require.NotEmpty(t, out)
	return out
}

func TestScenarios(t *testing.T) {
	for _, sc := range loadScenarios(t) {
		t.Run(sc.Name, func(t *testing.T) {
			st := newStore(t)
			for _, u := range sc.Setup {
				runUpdate(t, st, u)
			}
			_, rows := query(t, st, sc.Query)

			want := sc.Want
			if want == nil {
				want = [][]string{}
			}
			got := rows
			if got == nil {
				got = [][]string{}
			}
			require.ElementsMatch(t, want, got)
		})
	}
}

// TestGoldenResultSet snapshots a representative ordered result set so
// format drift in term rendering or sort order shows up as a diff.
func TestGoldenResultSet(t *testing.T) {
	st := newStore(t)
	runUpdate(t, st, `INSERT DATA {
		<http://ex/alice> <http://ex/name> "Alice" .
		<http://ex/alice> <http://ex/age> "30"^^<http://www.w3.org/2001/XMLSchema#integer> .
		<http://ex/bob> <http://ex/name> "Bob" .
		<http://ex/carol> <http://ex/name> "Carol"@en .
		<http://ex/carol> <http://ex/age> "25"^^<http://www.w3.org/2001/XMLSchema#integer>
	}`)

	vars, rows := query(t, st, `
		SELECT ?name ?age WHERE {
			?x <http://ex/name> ?name
			OPTIONAL { ?x <http://ex/age> ?age }
		} ORDER BY ?name`)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "vars: %v\n", vars)
	for _, row := range rows {
		fmt.Fprintf(&buf, "%v\n", row)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "select_optional_ordered", buf.Bytes())
}
