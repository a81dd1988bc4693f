package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseRegistry(t *testing.T) {
	reg := NewBaseRegistry[int]()

	require.NoError(t, reg.Register("one", 1))
	assert.Error(t, reg.Register("one", 11), "duplicate names are rejected")
	assert.Error(t, reg.Register("", 0))

	reg.Set("one", 10)
	reg.Set("two", 2)

	v, ok := reg.Get("one")
	require.True(t, ok)
	assert.Equal(t, 10, v, "Set replaces existing entries")

	_, ok = reg.Get("three")
	assert.False(t, ok)

	assert.Equal(t, 2, reg.Count())
	assert.ElementsMatch(t, []string{"one", "two"}, reg.Names())
	assert.ElementsMatch(t, []int{10, 2}, reg.List())

	require.NoError(t, reg.Remove("one"))
	assert.Error(t, reg.Remove("one"))
	assert.Equal(t, 1, reg.Count())
}
