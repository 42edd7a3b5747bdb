package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode is a minimal stand-in for a NodeServer's HTTP surface, enough
// to exercise Gateway's routing, health, and anti-entropy logic without
// a real Store behind it.
type fakeNode struct {
	data     map[string]json.RawMessage
	versions map[string]versionJSON
	healthy  bool
}

func newFakeNodeServer(t *testing.T, n *fakeNode) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !n.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "healthy"})
	})

	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		n.data[body.Key] = body.Value
		n.versions[body.Key] = versionJSON{Counter: n.versions[body.Key].Counter + 1, NodeID: "n"}
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	mux.HandleFunc("/get/", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[len("/get/"):]
		value, ok := n.data[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"key": key, "value": value})
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": n.data, "versions": n.versions})
	})

	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		keys := make([]string, 0, len(n.data))
		for k := range n.data {
			keys = append(keys, k)
		}
		json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	})

	return httptest.NewServer(mux)
}

func TestSet_RoutesToHealthyPrimary(t *testing.T) {
	nodeA := &fakeNode{data: map[string]json.RawMessage{}, versions: map[string]versionJSON{}, healthy: true}
	srvA := newFakeNodeServer(t, nodeA)
	defer srvA.Close()
	nodeB := &fakeNode{data: map[string]json.RawMessage{}, versions: map[string]versionJSON{}, healthy: true}
	srvB := newFakeNodeServer(t, nodeB)
	defer srvB.Close()

	gw := New(map[string]string{"a": srvA.URL, "b": srvB.URL})

	_, err := gw.Set(context.Background(), "hello", json.RawMessage(`"world"`))
	require.NoError(t, err)

	replicas := gw.replicasFor("hello")
	require.NotEmpty(t, replicas)

	primary := map[string]*fakeNode{"a": nodeA, "b": nodeB}[replicas[0]]
	assert.Contains(t, primary.data, "hello")
}

func TestSet_FallsBackWhenPrimaryUnhealthy(t *testing.T) {
	nodeA := &fakeNode{data: map[string]json.RawMessage{}, versions: map[string]versionJSON{}, healthy: false}
	srvA := newFakeNodeServer(t, nodeA)
	defer srvA.Close()
	nodeB := &fakeNode{data: map[string]json.RawMessage{}, versions: map[string]versionJSON{}, healthy: true}
	srvB := newFakeNodeServer(t, nodeB)
	defer srvB.Close()

	gw := New(map[string]string{"a": srvA.URL, "b": srvB.URL})
	gw.setHealthy("a", false)

	_, err := gw.Set(context.Background(), "hello", json.RawMessage(`"world"`))
	require.NoError(t, err)
}

func TestSet_AllReplicasUnhealthyReturnsServiceUnavailable(t *testing.T) {
	nodeA := &fakeNode{data: map[string]json.RawMessage{}, versions: map[string]versionJSON{}, healthy: false}
	srvA := newFakeNodeServer(t, nodeA)
	defer srvA.Close()

	gw := New(map[string]string{"a": srvA.URL})
	gw.setHealthy("a", false)

	_, err := gw.Set(context.Background(), "hello", json.RawMessage(`"world"`))
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestHealth_ClusterHealthyRequiresStrictMajority(t *testing.T) {
	gw := New(map[string]string{"a": "http://a", "b": "http://b", "c": "http://c"})

	_, clusterHealthy := gw.Health()
	assert.True(t, clusterHealthy)

	gw.setHealthy("a", false)
	gw.setHealthy("b", false)
	_, clusterHealthy = gw.Health()
	assert.False(t, clusterHealthy)
}

func TestResolveConflict_HigherCounterWins(t *testing.T) {
	gw := New(map[string]string{})

	statsI := nodeStats{
		Data:     map[string]json.RawMessage{"k": json.RawMessage(`"from-i"`)},
		Versions: map[string]versionJSON{"k": {Counter: 5, NodeID: "i"}},
	}
	statsJ := nodeStats{
		Data:     map[string]json.RawMessage{"k": json.RawMessage(`"from-j"`)},
		Versions: map[string]versionJSON{"k": {Counter: 2, NodeID: "j"}},
	}

	targetURL, value := gw.resolveConflict("http://i", statsI, "http://j", statsJ, "k")
	assert.Equal(t, "http://j", targetURL)
	assert.JSONEq(t, `"from-i"`, string(value))
}

func TestResolveConflict_TiesBreakOnNodeID(t *testing.T) {
	gw := New(map[string]string{})

	statsI := nodeStats{
		Data:     map[string]json.RawMessage{"k": json.RawMessage(`"from-i"`)},
		Versions: map[string]versionJSON{"k": {Counter: 3, NodeID: "zzz"}},
	}
	statsJ := nodeStats{
		Data:     map[string]json.RawMessage{"k": json.RawMessage(`"from-j"`)},
		Versions: map[string]versionJSON{"k": {Counter: 3, NodeID: "aaa"}},
	}

	targetURL, value := gw.resolveConflict("http://i", statsI, "http://j", statsJ, "k")
	assert.Equal(t, "http://j", targetURL)
	assert.JSONEq(t, `"from-i"`, string(value))
}

func TestSyncPair_ReplicatesOnlyInOneSide(t *testing.T) {
	nodeA := &fakeNode{
		data:     map[string]json.RawMessage{"only-a": json.RawMessage(`"a-value"`)},
		versions: map[string]versionJSON{"only-a": {Counter: 1, NodeID: "a"}},
		healthy:  true,
	}
	srvA := newFakeNodeServer(t, nodeA)
	defer srvA.Close()

	nodeB := &fakeNode{data: map[string]json.RawMessage{}, versions: map[string]versionJSON{}, healthy: true}
	srvB := newFakeNodeServer(t, nodeB)
	defer srvB.Close()

	gw := New(map[string]string{"a": srvA.URL, "b": srvB.URL})

	synced, err := gw.syncPair(context.Background(), "a", srvA.URL, "b", srvB.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.Contains(t, nodeB.data, "only-a")
}

func TestAntiEntropy_SkipsWithFewerThanTwoHealthyNodes(t *testing.T) {
	nodeA := &fakeNode{data: map[string]json.RawMessage{}, versions: map[string]versionJSON{}, healthy: true}
	srvA := newFakeNodeServer(t, nodeA)
	defer srvA.Close()

	gw := New(map[string]string{"a": srvA.URL})
	gw.runAntiEntropy(context.Background()) // must not panic or hang
}
