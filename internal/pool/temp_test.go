package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateTempOpensAnIsolatedStore(t *testing.T) {
	p := openTestPool(t)

	rt, err := p.CreateTemp("service-materialization")
	require.NoError(t, err)
	defer rt.Return()

	require.NotNil(t, rt.Store())
}

func TestReturnDeletesTheTempStore(t *testing.T) {
	p := openTestPool(t)
	rt, err := p.CreateTemp("scratch")
	require.NoError(t, err)

	require.NoError(t, rt.Return())
	require.Empty(t, p.ListStores())

	m, err := loadMeta(p.dir)
	require.NoError(t, err)
	require.Empty(t, m.Stores, "Return removes the temp entry from pool.json")
	require.NoDirExists(t, p.storeDir("guid-1"))
}

func TestReopenSweepsOrphanedCheckedOutTemps(t *testing.T) {
	dir := t.TempDir()

	p, err := Open(dir, WithIDGenerator(NewFixedGenerator("guid-a")))
	require.NoError(t, err)
	rt, err := p.CreateTemp("scratch")
	require.NoError(t, err)
	// Simulate a crash: never call rt.Return(), and don't even Close p.
	_ = rt

	p2, err := Open(dir)
	require.NoError(t, err)
	defer p2.Close()

	m, err := loadMeta(dir)
	require.NoError(t, err)
	require.Empty(t, m.Stores, "the orphaned temp entry must be swept on the next Open")
}
