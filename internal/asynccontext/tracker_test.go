package asynccontext

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextIDIsMonotonicAndUnique(t *testing.T) {
	a := NextID()
	b := NextID()
	c := NextID()

	require.NotEqual(t, a, b)
	require.NotEqual(t, b, c)
	require.NotEqual(t, a, c)
	require.Less(t, a, b)
	require.Less(t, b, c)
}

func TestNextIDIsSafeForConcurrentUse(t *testing.T) {
	const n = 200
	ids := make(chan uint64, n)
	for i := 0; i < n; i++ {
		go func() { ids <- NextID() }()
	}

	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		id := <-ids
		if seen[id] {
			t.Fatalf("duplicate ID %d issued under concurrent use", id)
		}
		seen[id] = true
	}
}
