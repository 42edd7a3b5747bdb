package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDurableMap_SaveLoadDelete(t *testing.T) {
	m := NewMemoryDurableMap()

	require.NoError(t, m.Save("k1", json.RawMessage(`"v1"`)))
	v, ok, err := m.Load("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `"v1"`, string(v))

	require.NoError(t, m.Delete("k1"))
	_, ok, err = m.Load("k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryDurableMap_ClearWipesAll(t *testing.T) {
	m := NewMemoryDurableMap()
	require.NoError(t, m.Save("k1", json.RawMessage(`1`)))
	require.NoError(t, m.Save("k2", json.RawMessage(`2`)))

	require.NoError(t, m.Clear())

	all, err := m.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryDurableMap_Exists(t *testing.T) {
	m := NewMemoryDurableMap()
	ok, err := m.Exists("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Save("k1", json.RawMessage(`1`)))
	ok, err = m.Exists("k1")
	require.NoError(t, err)
	assert.True(t, ok)
}
