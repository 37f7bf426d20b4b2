package engine

import (
	"testing"

	iface "SpoofDetServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	f := &mockFactory{}
	r := NewRegistry(f.Factory(), WithAggregation(AggregateMin))
	var active []int
	r.OnChange = func(n int) { active = append(active, n) }

	a, err := r.Create("front door")
	require.NoError(t, err)
	b, err := r.Create("lobby")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, AggregateMin, a.aggregation)

	got, err := r.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, iface.ErrInvalidHandle)

	list := r.List()
	require.Len(t, list, 2)
	assert.LessOrEqual(t, list[0].ID, list[1].ID)
	for _, info := range list {
		assert.Equal(t, "uninitialized", info.State)
	}

	require.NoError(t, r.Destroy(a.ID()))
	assert.Equal(t, DESTROYED, a.State())
	assert.ErrorIs(t, r.Destroy(a.ID()), iface.ErrInvalidHandle)
	assert.Equal(t, 1, r.Len())

	r.DestroyAll()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, DESTROYED, b.State())
	assert.Equal(t, []int{1, 2, 1, 0}, active)
}
