package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerate_Unique(t *testing.T) {
	seen := map[ID]struct{}{}
	for i := 0; i < 1000; i++ {
		id := Generate()
		require.False(t, id.IsZero())
		_, dup := seen[id]
		require.False(t, dup, "duplicate identity %s", id)
		seen[id] = struct{}{}
	}
}

func TestGenerate_SortsByCreation(t *testing.T) {
	a := Generate()
	b := Generate()
	require.Less(t, a.String(), b.String())
}

func TestID_IsZero(t *testing.T) {
	require.True(t, ID("").IsZero())
	require.True(t, ID("  ").IsZero())
	require.False(t, ID("x").IsZero())
}
