// Package mercury is the embeddable public surface of the quad store:
// open a store directory, add or delete quads, run SPARQL queries and
// updates, manage pools of stores. External collaborators (CLIs, HTTP
// servers, format writers) consume this package and nothing below it.
package mercury

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/mercury/internal/atom"
	"github.com/roach88/mercury/internal/exec"
	"github.com/roach88/mercury/internal/quad"
	"github.com/roach88/mercury/internal/sparql"
	"github.com/roach88/mercury/internal/sparqlir"
	"github.com/roach88/mercury/internal/store"
	"github.com/roach88/mercury/internal/update"
)

// Term is an RDF term as surfaced in query results.
type Term = sparqlir.Term

// QueryResults streams the solutions of a query. Always Close it.
type QueryResults = exec.Result

// UpdateResult reports an update request's outcome.
type UpdateResult = update.Result

// Triple is one constructed or described triple.
type Triple = exec.Triple

// Loader is the collaborator callback LOAD uses to parse RDF
// documents.
type Loader = update.Loader

// Store is one open quad-store directory.
type Store struct {
	st *store.Store
	x  *update.Executor

	execOpts []exec.Option
}

// Option configures a Store.
type Option func(*Store)

// WithLoader installs the LOAD document loader.
func WithLoader(l Loader) Option {
	return func(s *Store) { s.x = update.NewExecutor(s.st, update.WithLoader(l)) }
}

// WithHTTPClient overrides the SERVICE HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.execOpts = append(s.execOpts, exec.WithHTTPClient(c)) }
}

// WithServiceTimeout bounds each SERVICE request.
func WithServiceTimeout(d time.Duration) Option {
	return func(s *Store) { s.execOpts = append(s.execOpts, exec.WithServiceTimeout(d)) }
}

// Open opens or creates the store directory at path, replaying the WAL
// if the last close was unclean.
func Open(path string, opts ...Option) (*Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	s := wrapStore(st)
	for _, opt := range opts {
		opt(s)
	}
	slog.Info("store opened", "path", path)
	return s, nil
}

func wrapStore(st *store.Store) *Store {
	return &Store{st: st, x: update.NewExecutor(st)}
}

// Close checkpoints and closes the store.
func (s *Store) Close() error { return s.st.Close() }

// Flush syncs every backing file to stable storage.
func (s *Store) Flush() error { return s.st.Flush() }

// Checkpoint flushes, persists the recovery header, and truncates the
// WAL.
func (s *Store) Checkpoint() error { return s.st.Checkpoint() }

// Compact physically rebuilds the indexes, dropping soft-deleted
// records and history older than retainSinceTxID.
func (s *Store) Compact(retainSinceTxID uint64) error { return s.st.Compact(retainSinceTxID) }

// AddCurrent inserts a quad valid from now on. Term bytes are opaque
// to the store; SPARQL-visible terms use the N-Triples forms the
// update path writes.
func (s *Store) AddCurrent(subject, predicate, object []byte, graph ...[]byte) error {
	return s.st.WriteTxn(func(tx *store.Txn) error {
		return tx.AddCurrent(subject, predicate, object, graph...)
	})
}

// AddTemporal inserts a quad valid only within [validFrom, validTo].
func (s *Store) AddTemporal(subject, predicate, object []byte, validFrom, validTo uint64, graph ...[]byte) error {
	return s.st.WriteTxn(func(tx *store.Txn) error {
		return tx.AddTemporal(subject, predicate, object, validFrom, validTo, graph...)
	})
}

// SoftDelete tombstones every currently-visible quad matching the
// coordinate.
func (s *Store) SoftDelete(subject, predicate, object []byte, graph ...[]byte) error {
	return s.st.WriteTxn(func(tx *store.Txn) error {
		return tx.SoftDelete(subject, predicate, object, graph...)
	})
}

// ExecuteQuery parses and runs a SPARQL query. For a streaming SELECT
// the store's read lock is held until the result is closed; other
// query forms release it before ExecuteQuery returns.
func (s *Store) ExecuteQuery(ctx context.Context, source string, opts ...exec.Option) (*QueryResults, error) {
	q, err := sparql.ParseQuery(source)
	if err != nil {
		return nil, err
	}
	return exec.Execute(ctx, s.st, q, append(s.execOpts, opts...)...)
}

// ExecuteUpdate parses and runs a SPARQL update request, each
// operation in its own transaction.
func (s *Store) ExecuteUpdate(ctx context.Context, source string) (UpdateResult, error) {
	u, err := sparql.ParseUpdate(source)
	if err != nil {
		return UpdateResult{}, err
	}
	return s.x.Execute(ctx, u)
}

// GetNamedGraphs returns the IRIs of every named graph in use.
func (s *Store) GetNamedGraphs() ([]string, error) {
	ids, err := s.st.GetNamedGraphs()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		b, err := s.st.LookupAtom(id)
		if err != nil {
			return nil, err
		}
		t, err := exec.DecodeTerm(b)
		if err != nil {
			return nil, err
		}
		out = append(out, t.Value)
	}
	return out, nil
}

// CopyVisibleTo copies every currently-visible quad into dst — the
// copy half of copy/switch compaction: dst ends up with the live data
// and none of the source's soft-deleted history.
func (s *Store) CopyVisibleTo(dst *Store) (int, error) {
	rt := s.st.AcquireReadLock()

	type row struct {
		s, p, o, g []byte
	}
	var rows []row
	var scanErr error
	err := rt.Scan(quad.Pattern{}, func(q quad.Quad) bool {
		sb, err := s.st.LookupAtom(q.Subject)
		if err != nil {
			scanErr = err
			return false
		}
		pb, err := s.st.LookupAtom(q.Predicate)
		if err != nil {
			scanErr = err
			return false
		}
		ob, err := s.st.LookupAtom(q.Object)
		if err != nil {
			scanErr = err
			return false
		}
		r := row{s: sb, p: pb, o: ob}
		if q.Graph != atom.Unbound {
			gb, err := s.st.LookupAtom(q.Graph)
			if err != nil {
				scanErr = err
				return false
			}
			r.g = gb
		}
		rows = append(rows, r)
		return true
	})
	rt.ReleaseReadLock()
	if err == nil {
		err = scanErr
	}
	if err != nil {
		return 0, fmt.Errorf("mercury: copy scan: %w", err)
	}

	err = dst.st.WriteTxn(func(tx *store.Txn) error {
		for _, r := range rows {
			var g [][]byte
			if r.g != nil {
				g = [][]byte{r.g}
			}
			if err := tx.AddCurrent(r.s, r.p, r.o, g...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	slog.Info("copied visible quads", "count", len(rows))
	return len(rows), nil
}

// ClearAll soft-deletes every quad in every graph.
func (s *Store) ClearAll() error {
	_, err := s.ExecuteUpdate(context.Background(), "CLEAR SILENT ALL")
	return err
}
