package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvcluster/internal/store"
)

func newTestNode(t *testing.T, id string) *Node {
	t.Helper()
	s, err := store.NewInMemory(id, filepath.Join(t.TempDir(), id+".wal"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	n := New(ctx, id, s, 2, 10)
	t.Cleanup(func() { n.Close() })
	return n
}

// fakePeerServer records every SET/GET/DELETE it receives, so tests can
// assert on what a Node replicated or read-repaired without standing up
// a full second Node.
type fakePeerServer struct {
	mu      sync.Mutex
	data    map[string]json.RawMessage
	setLog  []string
	healthy bool
}

func newFakePeerServer(t *testing.T) (*httptest.Server, *fakePeerServer) {
	t.Helper()
	peer := &fakePeerServer{data: map[string]json.RawMessage{}, healthy: true}

	mux := http.NewServeMux()
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		peer.mu.Lock()
		peer.data[body.Key] = body.Value
		peer.setLog = append(peer.setLog, body.Key)
		peer.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/get/", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[len("/get/"):]
		peer.mu.Lock()
		value, ok := peer.data[key]
		peer.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"key": key, "value": value})
	})
	mux.HandleFunc("/delete/", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path[len("/delete/"):]
		peer.mu.Lock()
		delete(peer.data, key)
		peer.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	return httptest.NewServer(mux), peer
}

func (p *fakePeerServer) snapshot() map[string]json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]json.RawMessage, len(p.data))
	for k, v := range p.data {
		out[k] = v
	}
	return out
}

func TestSetGet_LocalRoundTrip(t *testing.T) {
	n := newTestNode(t, "node1")
	ctx := context.Background()

	require.NoError(t, n.Set(ctx, "k1", json.RawMessage(`"v1"`), false))

	value, ok, err := n.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `"v1"`, string(value))
}

func TestGet_MissingKeyReturnsNotOkNoError(t *testing.T) {
	n := newTestNode(t, "node1")
	_, ok, err := n.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSet_ReplicatesToRegisteredPeers(t *testing.T) {
	n := newTestNode(t, "node1")
	srv, peer := newFakePeerServer(t)
	defer srv.Close()

	n.RegisterPeer("node2", srv.URL)
	require.NoError(t, n.Set(context.Background(), "k1", json.RawMessage(`"v1"`), false))

	require.Eventually(t, func() bool {
		return len(peer.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.JSONEq(t, `"v1"`, string(peer.snapshot()["k1"]))
}

func TestSet_IsReplicaDoesNotReplicateFurther(t *testing.T) {
	n := newTestNode(t, "node1")
	srv, peer := newFakePeerServer(t)
	defer srv.Close()

	n.RegisterPeer("node2", srv.URL)
	require.NoError(t, n.Set(context.Background(), "k1", json.RawMessage(`"v1"`), true))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, peer.snapshot())
}

func TestGet_SchedulesReadRepairOnMismatch(t *testing.T) {
	n := newTestNode(t, "node1")
	srv, peer := newFakePeerServer(t)
	defer srv.Close()

	peer.mu.Lock()
	peer.data["k1"] = json.RawMessage(`"stale"`)
	peer.mu.Unlock()

	n.RegisterPeer("node2", srv.URL)
	require.NoError(t, n.Set(context.Background(), "k1", json.RawMessage(`"fresh"`), true))

	_, ok, err := n.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return string(peer.snapshot()["k1"]) == `"fresh"`
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealth_ReportsCountersAndPeers(t *testing.T) {
	n := newTestNode(t, "node1")
	srv, _ := newFakePeerServer(t)
	defer srv.Close()
	n.RegisterPeer("node2", srv.URL)

	ctx := context.Background()
	require.NoError(t, n.Set(ctx, "k1", json.RawMessage(`"v1"`), false))
	_, _, err := n.Get(ctx, "k1")
	require.NoError(t, err)

	health, err := n.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "node1", health.NodeID)
	assert.Equal(t, 1, health.Peers)
	assert.EqualValues(t, 1, health.TotalWrites)
	assert.EqualValues(t, 1, health.TotalReads)
}

func TestClose_DrainsInFlightReplication(t *testing.T) {
	n := newTestNode(t, "node1")
	srv, peer := newFakePeerServer(t)
	defer srv.Close()
	n.RegisterPeer("node2", srv.URL)

	require.NoError(t, n.Set(context.Background(), "k1", json.RawMessage(`"v1"`), false))
	require.NoError(t, n.Close())

	assert.Len(t, peer.snapshot(), 1)
}
