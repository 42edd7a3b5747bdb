// Package node implements the NodeServer core: a local Worker pool and
// Store, a registry of peer nodes, and the asynchronous replication and
// read-repair flows that keep peers eventually consistent.
//
// WHY ASYNC REPLICATION?
//   - Faster writes: the primary responds immediately without waiting for
//     replicas.
//   - Better availability: the primary can accept writes even if replicas
//     are slow or down.
//   - Trade-off: eventual rather than strong consistency, acceptable for
//     this system.
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"kvcluster/internal/store"
	"kvcluster/internal/workerpool"
	"kvcluster/pkg/kvlog"
)

const (
	replicateTimeout = 2 * time.Second
	readRepairTimeout = 1 * time.Second
	submitTimeout    = 500 * time.Millisecond
	opTimeout        = 2 * time.Second
)

// Peer is one registered replication partner.
type Peer struct {
	ID  string
	URL string
}

// Node is a single NodeServer: a local Store fronted by a worker pool,
// plus the peer registry and background fan-out goroutines that
// replicate writes and repair stale reads.
type Node struct {
	ID string

	pool      *workerpool.Pool
	httpc     *http.Client
	startedAt time.Time

	mu    sync.RWMutex
	peers map[string]string // peer_id -> base URL

	totalReads            atomic.Int64
	totalWrites           atomic.Int64
	replicationFailures   atomic.Int64

	// inflight tracks background replication/read-repair goroutines so
	// Close can drain them with a bound instead of leaving them detached.
	inflight sync.WaitGroup

	log zerolog.Logger
}

// New wraps s in a worker pool and starts it, returning a Node ready to
// serve the HTTP surface in internal/api/nodeapi.
func New(ctx context.Context, id string, s *store.Store, workers, queueSize int) *Node {
	pool := workerpool.New(s, workers, queueSize)
	pool.Start(ctx)

	return &Node{
		ID:        id,
		pool:      pool,
		httpc:     &http.Client{},
		startedAt: time.Now(),
		peers:     make(map[string]string),
		log:       kvlog.WithNode("node", id),
	}
}

// RegisterPeer records peerURL for peerID. Idempotent: re-registering the
// same peer overwrites its URL; no authentication, matching spec.md's
// peer registration contract.
func (n *Node) RegisterPeer(peerID, peerURL string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[peerID] = peerURL
	return len(n.peers)
}

func (n *Node) peerList() []Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	peers := make([]Peer, 0, len(n.peers))
	for id, url := range n.peers {
		peers = append(peers, Peer{ID: id, URL: url})
	}
	return peers
}

func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Set applies key=value locally. If isReplica is false and peers are
// registered, it fans the write out to every peer, fire-and-forget.
func (n *Node) Set(ctx context.Context, key string, value json.RawMessage, isReplica bool) error {
	req := &workerpool.Request{Operation: workerpool.OpSet, Key: key, Value: value}
	if err := n.pool.Submit(ctx, req, submitTimeout); err != nil {
		return err
	}
	if err := workerpool.Wait(req, opTimeout); err != nil {
		return err
	}
	n.totalWrites.Add(1)

	if !isReplica {
		peers := n.peerList()
		if len(peers) > 0 {
			n.inflight.Add(1)
			go func() {
				defer n.inflight.Done()
				n.replicateSet(key, value, peers)
			}()
		}
	}
	return nil
}

func (n *Node) replicateSet(key string, value json.RawMessage, peers []Peer) {
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			if err := n.sendSet(p.URL, key, value); err != nil {
				n.replicationFailures.Add(1)
				n.log.Warn().Str("peer_id", p.ID).Str("key", key).Err(err).Msg("replication to peer failed")
			}
		}(p)
	}
	wg.Wait()
}

func (n *Node) sendSet(peerURL, key string, value json.RawMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), replicateTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"key": key, "value": value, "is_replica": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURL+"/set", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer responded %d", resp.StatusCode)
	}
	return nil
}

// Get returns the local value for key. If present and peers are
// registered, it schedules a background read-repair pass.
func (n *Node) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	req := &workerpool.Request{Operation: workerpool.OpGet, Key: key}
	if err := n.pool.Submit(ctx, req, submitTimeout); err != nil {
		return nil, false, err
	}
	err := workerpool.Wait(req, opTimeout)
	if err == store.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	n.totalReads.Add(1)

	value := req.Result.(json.RawMessage)
	peers := n.peerList()
	if len(peers) > 0 {
		n.inflight.Add(1)
		go func() {
			defer n.inflight.Done()
			n.readRepair(key, value, peers)
		}()
	}
	return value, true, nil
}

// readRepair fetches key from every peer and issues a replicated SET
// against any peer whose copy disagrees. Failures are silent — read
// repair is strictly best-effort.
func (n *Node) readRepair(key string, expected json.RawMessage, peers []Peer) {
	for _, p := range peers {
		peerValue, ok := n.fetchFromPeer(p.URL, key)
		if !ok {
			continue
		}
		if !bytes.Equal(bytes.TrimSpace(peerValue), bytes.TrimSpace(expected)) {
			if err := n.sendSet(p.URL, key, expected); err != nil {
				n.log.Warn().Str("peer_id", p.ID).Str("key", key).Err(err).Msg("read repair failed")
			}
		}
	}
}

func (n *Node) fetchFromPeer(peerURL, key string) (json.RawMessage, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), readRepairTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peerURL+"/get/"+key, nil)
	if err != nil {
		return nil, false
	}
	resp, err := n.httpc.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false
	}
	return body.Value, true
}

// Delete soft-deletes key locally and replicates the deletion fire-and-
// forget, just like Set.
func (n *Node) Delete(ctx context.Context, key string) error {
	req := &workerpool.Request{Operation: workerpool.OpDelete, Key: key}
	if err := n.pool.Submit(ctx, req, submitTimeout); err != nil {
		return err
	}
	if err := workerpool.Wait(req, opTimeout); err != nil {
		return err
	}
	n.totalWrites.Add(1)

	peers := n.peerList()
	if len(peers) > 0 {
		n.inflight.Add(1)
		go func() {
			defer n.inflight.Done()
			n.replicateDelete(key, peers)
		}()
	}
	return nil
}

func (n *Node) replicateDelete(key string, peers []Peer) {
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			if err := n.sendDelete(p.URL, key); err != nil {
				n.replicationFailures.Add(1)
				n.log.Warn().Str("peer_id", p.ID).Str("key", key).Err(err).Msg("delete replication failed")
			}
		}(p)
	}
	wg.Wait()
}

func (n *Node) sendDelete(peerURL, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), replicateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, peerURL+"/delete/"+key, nil)
	if err != nil {
		return err
	}
	resp, err := n.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer responded %d", resp.StatusCode)
	}
	return nil
}

// Exists checks local presence of key.
func (n *Node) Exists(ctx context.Context, key string) (bool, error) {
	req := &workerpool.Request{Operation: workerpool.OpExists, Key: key}
	if err := n.pool.Submit(ctx, req, submitTimeout); err != nil {
		return false, err
	}
	if err := workerpool.Wait(req, opTimeout); err != nil {
		return false, err
	}
	return req.Result.(bool), nil
}

// Keys returns every non-tombstoned key held locally.
func (n *Node) Keys(ctx context.Context) ([]string, error) {
	req := &workerpool.Request{Operation: workerpool.OpKeys}
	if err := n.pool.Submit(ctx, req, submitTimeout); err != nil {
		return nil, err
	}
	if err := workerpool.Wait(req, opTimeout); err != nil {
		return nil, err
	}
	keys, _ := req.Result.([]string)
	return keys, nil
}

// Items returns every non-tombstoned key/value pair, used by /stats for
// anti-entropy Merkle comparisons.
func (n *Node) Items(ctx context.Context) (map[string]json.RawMessage, error) {
	req := &workerpool.Request{Operation: workerpool.OpItems}
	if err := n.pool.Submit(ctx, req, submitTimeout); err != nil {
		return nil, err
	}
	if err := workerpool.Wait(req, opTimeout); err != nil {
		return nil, err
	}
	items, _ := req.Result.(map[string]json.RawMessage)
	return items, nil
}

// ItemsWithVersions returns every non-tombstoned key/value pair together
// with its Version, used by the Gateway's anti-entropy pass to build
// Merkle trees and resolve conflicts by last-writer-wins.
func (n *Node) ItemsWithVersions(ctx context.Context) (map[string]store.StoredValue, error) {
	req := &workerpool.Request{Operation: workerpool.OpItemsWithVersions}
	if err := n.pool.Submit(ctx, req, submitTimeout); err != nil {
		return nil, err
	}
	if err := workerpool.Wait(req, opTimeout); err != nil {
		return nil, err
	}
	items, _ := req.Result.(map[string]store.StoredValue)
	return items, nil
}

// Size returns the number of non-tombstoned keys held locally.
func (n *Node) Size(ctx context.Context) (int, error) {
	req := &workerpool.Request{Operation: workerpool.OpSize}
	if err := n.pool.Submit(ctx, req, submitTimeout); err != nil {
		return 0, err
	}
	if err := workerpool.Wait(req, opTimeout); err != nil {
		return 0, err
	}
	return req.Result.(int), nil
}

// Health is the payload returned by the /health and (as a prefix of)
// /stats endpoints.
type Health struct {
	NodeID              string `json:"node_id"`
	Status              string `json:"status"`
	UptimeSeconds       int64  `json:"uptime_seconds"`
	StoreSize           int    `json:"store_size"`
	TotalReads          int64  `json:"total_reads"`
	TotalWrites         int64  `json:"total_writes"`
	ReplicationFailures int64  `json:"replication_failures"`
	Peers               int    `json:"peers"`
}

func (n *Node) Health(ctx context.Context) (Health, error) {
	size, err := n.Size(ctx)
	if err != nil {
		return Health{}, err
	}
	return Health{
		NodeID:              n.ID,
		Status:              "healthy",
		UptimeSeconds:       int64(time.Since(n.startedAt).Seconds()),
		StoreSize:           size,
		TotalReads:          n.totalReads.Load(),
		TotalWrites:         n.totalWrites.Load(),
		ReplicationFailures: n.replicationFailures.Load(),
		Peers:               n.PeerCount(),
	}, nil
}

// Close waits (bounded) for in-flight replication/read-repair goroutines
// to finish, then stops the worker pool.
func (n *Node) Close() error {
	done := make(chan struct{})
	go func() {
		n.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		n.log.Warn().Msg("timed out waiting for in-flight replication to drain")
	}
	return n.pool.Stop()
}
