package merkle

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestBuild_IdenticalDataSameRoot(t *testing.T) {
	data1 := map[string]json.RawMessage{
		"key1": raw(t, "value1"),
		"key2": raw(t, "value2"),
		"key3": raw(t, "value3"),
	}
	data2 := map[string]json.RawMessage{
		"key1": raw(t, "value1"),
		"key2": raw(t, "value2"),
		"key3": raw(t, "value3"),
	}

	assert.Equal(t, Build(data1).RootHash(), Build(data2).RootHash())
}

func TestBuild_DifferentDataDifferentRoot(t *testing.T) {
	data1 := map[string]json.RawMessage{"key1": raw(t, "value1")}
	data2 := map[string]json.RawMessage{"key1": raw(t, "different")}

	assert.NotEqual(t, Build(data1).RootHash(), Build(data2).RootHash())
}

func TestBuild_EmptyTreeIsSHA256OfEmptyString(t *testing.T) {
	tree := Build(map[string]json.RawMessage{})
	// sha256("") precomputed
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", tree.RootHash())
}

func TestDiff_OnlyInSelfAndOther(t *testing.T) {
	self := Build(map[string]json.RawMessage{
		"a": raw(t, 1),
		"b": raw(t, 2),
	})
	other := Build(map[string]json.RawMessage{
		"b": raw(t, 2),
		"c": raw(t, 3),
	})

	onlyInSelf, onlyInOther, conflicting := self.Diff(other)
	assert.Equal(t, []string{"a"}, onlyInSelf)
	assert.Equal(t, []string{"c"}, onlyInOther)
	assert.Empty(t, conflicting)
}

func TestDiff_ConflictingValues(t *testing.T) {
	self := Build(map[string]json.RawMessage{"k": raw(t, "v1")})
	other := Build(map[string]json.RawMessage{"k": raw(t, "v2")})

	onlyInSelf, onlyInOther, conflicting := self.Diff(other)
	assert.Empty(t, onlyInSelf)
	assert.Empty(t, onlyInOther)
	assert.Equal(t, []string{"k"}, conflicting)
}

func TestCanonicalize_KeyOrderDoesNotAffectHash(t *testing.T) {
	v1 := json.RawMessage(`{"b":2,"a":1}`)
	v2 := json.RawMessage(`{"a":1,"b":2}`)
	assert.Equal(t, leafHash("k", v1), leafHash("k", v2))
}

func TestBuild_OddLeafCountDuplicatesLast(t *testing.T) {
	// Just exercise the odd-count path through a real path, not a golden hash.
	data := map[string]json.RawMessage{
		"a": raw(t, 1),
		"b": raw(t, 2),
		"c": raw(t, 3),
	}
	tree := Build(data)
	assert.Len(t, tree.RootHash(), 64) // two combine levels (3 -> 2 -> 1), still a valid sha256 hex digest
}
