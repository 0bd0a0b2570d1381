package peer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSeedsRegistry(t *testing.T) {
	r := New("localhost:23333")
	require.True(t, r.IsKnown("localhost:23333"))
	require.Equal(t, []string{"localhost:23333"}, r.GetAll())
}

func TestAddReturnsWhetherNew(t *testing.T) {
	r := New()
	require.True(t, r.Add("a"))
	require.False(t, r.Add("a"))
}

func TestAddManyAndEvict(t *testing.T) {
	r := New()
	r.AddMany([]string{"a", "b", "c"})
	require.ElementsMatch(t, []string{"a", "b", "c"}, r.GetAll())

	r.Evict("b")
	require.ElementsMatch(t, []string{"a", "c"}, r.GetAll())
	require.False(t, r.IsKnown("b"))
}
