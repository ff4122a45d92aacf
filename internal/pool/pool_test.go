package pool

import (
	"testing"

	"github.com/roach88/mercury/internal/store"
	"github.com/stretchr/testify/require"
)

func openTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := Open(t.TempDir(), WithIDGenerator(NewFixedGenerator(
		"guid-1", "guid-2", "guid-3", "guid-4", "guid-5",
	)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestCreateThenStoreReturnsSameHandle(t *testing.T) {
	p := openTestPool(t)

	s1, err := p.Create("primary")
	require.NoError(t, err)

	s2, err := p.Store("primary")
	require.NoError(t, err)
	require.Same(t, s1, s2)
}

func TestCreateDuplicateNameFails(t *testing.T) {
	p := openTestPool(t)
	_, err := p.Create("primary")
	require.NoError(t, err)
	_, err = p.Create("primary")
	require.Error(t, err)
}

func TestStoreOfUnknownNameFails(t *testing.T) {
	p := openTestPool(t)
	_, err := p.Store("nope")
	require.Error(t, err)
}

func TestSetActiveAndActive(t *testing.T) {
	p := openTestPool(t)
	_, err := p.Create("primary")
	require.NoError(t, err)

	require.Empty(t, p.Active())
	require.NoError(t, p.SetActive("primary"))
	require.Equal(t, "primary", p.Active())
}

func TestSetActiveOfUnknownNameFails(t *testing.T) {
	p := openTestPool(t)
	require.Error(t, p.SetActive("nope"))
}

func TestSwitchExchangesStoreData(t *testing.T) {
	p := openTestPool(t)

	primary, err := p.Create("primary")
	require.NoError(t, err)
	staging, err := p.Create("staging")
	require.NoError(t, err)
	require.NoError(t, p.SetActive("primary"))

	require.NoError(t, primary.WriteTxn(func(tx *store.Txn) error {
		return tx.AddCurrent([]byte("s"), []byte("p"), []byte("o"))
	}))
	_ = staging

	require.NoError(t, p.Switch("primary", "staging"))
	require.Equal(t, "primary", p.Active(), "the active designation stays with the name")

	sAfter, err := p.Store("staging")
	require.NoError(t, err)
	require.Same(t, primary, sAfter, "data that was under 'primary' is now reachable as 'staging'")
}

func TestDeleteRemovesStoreAndClearsActive(t *testing.T) {
	p := openTestPool(t)
	_, err := p.Create("primary")
	require.NoError(t, err)
	require.NoError(t, p.SetActive("primary"))

	require.NoError(t, p.Delete("primary"))
	require.Empty(t, p.Active())

	_, err = p.Store("primary")
	require.Error(t, err)
}

func TestListStoresExcludesTemps(t *testing.T) {
	p := openTestPool(t)
	_, err := p.Create("primary")
	require.NoError(t, err)

	rt, err := p.CreateTemp("scratch")
	require.NoError(t, err)
	defer rt.Return()

	names := p.ListStores()
	require.ElementsMatch(t, []string{"primary"}, names)
}
