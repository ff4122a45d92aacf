package bufpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRentReturnsAtLeastRequestedLength(t *testing.T) {
	p := NewPool[int]()
	l := p.Rent(5)
	defer l.Release()
	require.GreaterOrEqual(t, len(l.Slice()), 5)
}

func TestReleaseThenRentReusesBuffer(t *testing.T) {
	p := NewPool[int]()
	l1 := p.Rent(16)
	buf1 := l1.Slice()
	l1.Release()

	l2 := p.Rent(16)
	defer l2.Release()
	require.Same(t, &buf1[0], &l2.Slice()[0], "expected the freed buffer to be reused")
}

func TestReleaseClearsBuffer(t *testing.T) {
	p := NewPool[int]()
	l := p.Rent(8)
	s := l.Slice()
	for i := range s {
		s[i] = 42
	}
	l.Release()

	l2 := p.Rent(8)
	defer l2.Release()
	for _, v := range l2.Slice() {
		require.Zero(t, v)
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	p := NewPool[int]()
	l := p.Rent(4)
	l.Release()
	require.Panics(t, func() { l.Release() })
}

func TestUseAfterReleasePanics(t *testing.T) {
	p := NewPool[int]()
	l := p.Rent(4)
	l.Release()
	require.Panics(t, func() { l.Slice() })
}

func TestSharedReturnsSamePoolForSameType(t *testing.T) {
	p1 := Shared[string]()
	p2 := Shared[string]()
	require.Same(t, p1, p2)
}

func TestSharedIsDistinctPerType(t *testing.T) {
	ints := Shared[int]()
	strs := Shared[string]()
	require.NotEqual(t, ints, strs)
}

func TestBucketingRoundsUpToPowerOfTwo(t *testing.T) {
	require.Equal(t, 16, bucketFor(1))
	require.Equal(t, 16, bucketFor(16))
	require.Equal(t, 32, bucketFor(17))
	require.Equal(t, 1024, bucketFor(1000))
}
