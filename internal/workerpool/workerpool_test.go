package workerpool

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvcluster/internal/store"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	s, err := store.NewInMemory("node1", filepath.Join(t.TempDir(), "test.wal"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	p := New(s, 2, 10)
	p.Start(context.Background())
	t.Cleanup(func() { p.Stop() })
	return p
}

func TestSubmit_SetThenGet(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	setReq := &Request{Operation: OpSet, Key: "k1", Value: json.RawMessage(`"v1"`)}
	require.NoError(t, p.Submit(ctx, setReq, time.Second))
	require.NoError(t, Wait(setReq, time.Second))

	getReq := &Request{Operation: OpGet, Key: "k1"}
	require.NoError(t, p.Submit(ctx, getReq, time.Second))
	require.NoError(t, Wait(getReq, time.Second))
	assert.JSONEq(t, `"v1"`, string(getReq.Result.(json.RawMessage)))
}

func TestSubmit_GetMissingKeyReturnsError(t *testing.T) {
	p := newTestPool(t)
	ctx := context.Background()

	req := &Request{Operation: OpGet, Key: "missing"}
	require.NoError(t, p.Submit(ctx, req, time.Second))
	err := Wait(req, time.Second)
	assert.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestSubmit_NotRunningBeforeStart(t *testing.T) {
	s, err := store.NewInMemory("node1", filepath.Join(t.TempDir(), "test.wal"))
	require.NoError(t, err)
	defer s.Close()

	p := New(s, 2, 10)
	err = p.Submit(context.Background(), &Request{Operation: OpSize}, time.Second)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestStop_DrainsWorkers(t *testing.T) {
	p := newTestPool(t)
	require.NoError(t, p.Stop())
}
