package ring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNode_EmptyRingFails(t *testing.T) {
	r := New(0)
	_, err := r.GetNode("foo")
	require.Error(t, err)
	assert.ErrorAs(t, err, &ErrEmptyRing{})
}

func TestGetNode_Deterministic(t *testing.T) {
	r := New(10)
	r.AddNode("a")
	r.AddNode("b")
	r.AddNode("c")

	n1, err := r.GetNode("some-key")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		n2, err := r.GetNode("some-key")
		require.NoError(t, err)
		assert.Equal(t, n1, n2, "same key must resolve to the same node every time")
	}
}

func TestAddNode_Idempotent(t *testing.T) {
	r := New(10)
	r.AddNode("a")
	before := r.NodeCount()
	r.AddNode("a")
	assert.Equal(t, before, r.NodeCount())
}

func TestRemoveNode(t *testing.T) {
	r := New(10)
	r.AddNode("a")
	r.AddNode("b")
	require.True(t, r.Contains("a"))

	r.RemoveNode("a")
	assert.False(t, r.Contains("a"))
	assert.Equal(t, 1, r.NodeCount())

	node, err := r.GetNode("anything")
	require.NoError(t, err)
	assert.Equal(t, "b", node)
}

func TestGetNodesForReplication_DistinctAndBounded(t *testing.T) {
	r := New(50)
	for _, id := range []string{"n1", "n2", "n3"} {
		r.AddNode(id)
	}

	nodes := r.GetNodesForReplication("key-1", 2)
	require.Len(t, nodes, 2)
	assert.NotEqual(t, nodes[0], nodes[1])

	// asking for more replicas than nodes exist caps at distinct node count
	all := r.GetNodesForReplication("key-1", 10)
	assert.Len(t, all, 3)
}

func TestGetNodesForReplication_EmptyRing(t *testing.T) {
	r := New(10)
	assert.Nil(t, r.GetNodesForReplication("key", 2))
}

func TestRebalancing_OnlyTouchesFractionOfKeys(t *testing.T) {
	const numKeys = 2000
	r := New(DefaultVirtualNodes)
	for _, id := range []string{"n1", "n2", "n3", "n4"} {
		r.AddNode(id)
	}

	before := make(map[string]string, numKeys)
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key-%d", i)
		node, err := r.GetNode(key)
		require.NoError(t, err)
		before[key] = node
	}

	r.AddNode("n5")

	moved := 0
	for key, oldNode := range before {
		newNode, err := r.GetNode(key)
		require.NoError(t, err)
		if newNode != oldNode {
			moved++
		}
	}

	// with 5 nodes, expect roughly 1/5 of keys to move; allow generous slack.
	fraction := float64(moved) / float64(numKeys)
	assert.Less(t, fraction, 0.5, "adding one node should not remap the majority of keys")
	assert.Greater(t, moved, 0, "adding a node should move at least some keys")
}
