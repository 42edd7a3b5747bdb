package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeNode(t *testing.T, registered *[]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/register_peer", func(w http.ResponseWriter, r *http.Request) {
		*registered = append(*registered, r.URL.Query().Get("peer_id"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","store_size":0,"peers":0}`))
	})
	return httptest.NewServer(mux)
}

func TestRegisterPeers_RegistersEveryOtherNode(t *testing.T) {
	var registeredA, registeredB []string
	srvA := newFakeNode(t, &registeredA)
	defer srvA.Close()
	srvB := newFakeNode(t, &registeredB)
	defer srvB.Close()

	cm := New(map[string]string{"a": srvA.URL, "b": srvB.URL})
	require.NoError(t, cm.RegisterPeers(context.Background()))

	assert.Equal(t, []string{"b"}, registeredA)
	assert.Equal(t, []string{"a"}, registeredB)
}

func TestVerifyCluster_AllHealthy(t *testing.T) {
	var registered []string
	srvA := newFakeNode(t, &registered)
	defer srvA.Close()

	cm := New(map[string]string{"a": srvA.URL})
	results, allHealthy := cm.VerifyCluster(context.Background())

	assert.True(t, allHealthy)
	require.Len(t, results, 1)
	assert.True(t, results[0].Healthy)
}

func TestVerifyCluster_UnreachableNodeFailsHealth(t *testing.T) {
	cm := New(map[string]string{"ghost": "http://127.0.0.1:1"})
	_, allHealthy := cm.VerifyCluster(context.Background())
	assert.False(t, allHealthy)
}
