package atom

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConcurrentInternersWithOverlappingInputs(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	const (
		goroutines = 8
		distinct   = 200
	)

	// Every goroutine interns the same distinct set, shuffled by its
	// own starting offset, so most interns race on already-seen terms.
	var wg sync.WaitGroup
	results := make([]map[string]ID, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			got := make(map[string]ID, distinct)
			for i := 0; i < distinct; i++ {
				term := fmt.Sprintf("term-%03d", (i+g*17)%distinct)
				id, err := s.Intern([]byte(term))
				if err != nil {
					t.Error(err)
					return
				}
				got[term] = id
			}
			results[g] = got
		}(g)
	}
	wg.Wait()

	// All racers agreed on every term's canonical ID.
	for g := 1; g < goroutines; g++ {
		require.Equal(t, results[0], results[g], "goroutine %d disagreed", g)
	}

	// Final atom count equals the number of distinct inputs, and every
	// returned ID looks up to the originating bytes.
	require.Equal(t, uint64(distinct), s.Count())
	for term, id := range results[0] {
		b, err := s.Lookup(id)
		require.NoError(t, err)
		require.Equal(t, term, string(b))
	}
}

func TestLookupsRaceWithInterns(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	seed, err := s.Intern([]byte("seed"))
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				b, err := s.Lookup(seed)
				if err != nil {
					t.Error(err)
					return
				}
				if string(b) != "seed" {
					t.Errorf("lookup returned %q", b)
					return
				}
			}
		}()
	}

	// Interning enough fresh terms forces data-file growth and at
	// least one hash-table rehash while the readers spin.
	for i := 0; i < 5000; i++ {
		_, err := s.Intern([]byte(fmt.Sprintf("growth-%05d", i)))
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}
