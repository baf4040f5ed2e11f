package cosim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyNodeMap(t *testing.T) {
	m, err := NewProxyNodeMap([]int{4, 7}, []int{1, 0})
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []int{4, 7}, m.Regions())

	g, ok := m.Group(7)
	require.True(t, ok)
	assert.Equal(t, 0, g)

	r, ok := m.Region(1)
	require.True(t, ok)
	assert.Equal(t, 4, r)

	assert.True(t, m.IsProxy(4))
	assert.False(t, m.IsProxy(5))
}

func TestProxyNodeMapDefaultGroups(t *testing.T) {
	m, err := NewProxyNodeMap([]int{2, 3, 9}, nil)
	require.NoError(t, err)
	for i, r := range []int{2, 3, 9} {
		g, ok := m.Group(r)
		require.True(t, ok)
		assert.Equal(t, i, g)
	}
}

func TestProxyNodeMapRejectsNonBijection(t *testing.T) {
	tests := []struct {
		name    string
		regions []int
		groups  []int
		want    error
	}{
		{"empty", nil, nil, ErrProxyMapEmpty},
		{"length mismatch", []int{1, 2}, []int{0}, ErrProxyMapNotBijective},
		{"duplicate region", []int{1, 1}, []int{0, 1}, ErrProxyMapNotBijective},
		{"duplicate group", []int{1, 2}, []int{0, 0}, ErrProxyMapNotBijective},
		{"negative index", []int{-1}, []int{0}, ErrProxyMapNotBijective},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProxyNodeMap(tt.regions, tt.groups)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProxyNodeMapRegionsIsCopy(t *testing.T) {
	m, err := NewProxyNodeMap([]int{1, 2}, nil)
	require.NoError(t, err)
	regions := m.Regions()
	regions[0] = 99
	assert.Equal(t, []int{1, 2}, m.Regions())
}
