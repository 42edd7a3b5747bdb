// Package gateway implements the single entry point for clients: it
// routes requests to the right node by consistent hash, monitors node
// health via heartbeats, and runs background anti-entropy reconciliation
// using Merkle trees.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"kvcluster/internal/merkle"
	"kvcluster/internal/ring"
	"kvcluster/pkg/kvlog"
)

const (
	healthCheckInterval  = 5 * time.Second
	healthCheckTimeout   = 2 * time.Second
	antiEntropyDelay     = 30 * time.Second
	antiEntropyPeriod    = 600 * time.Second
	routeRequestTimeout  = 5 * time.Second
	replicationFanout    = 2 // N for GetNodesForReplication
)

// Gateway routes client requests to the node cluster and keeps it
// healthy and consistent in the background.
type Gateway struct {
	nodes map[string]string // node_id -> base URL
	ring  *ring.Ring
	httpc *http.Client
	log   zerolog.Logger

	mu      sync.RWMutex
	healthy map[string]bool

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
	startedAt      time.Time
}

// New creates a Gateway over the given node set, assumed healthy until
// the first heartbeat pass says otherwise.
func New(nodes map[string]string) *Gateway {
	r := ring.New(0)
	healthy := make(map[string]bool, len(nodes))
	for id := range nodes {
		r.AddNode(id)
		healthy[id] = true
	}

	return &Gateway{
		nodes:     nodes,
		ring:      r,
		httpc:     &http.Client{},
		log:       kvlog.WithComponent("gateway"),
		healthy:   healthy,
		startedAt: time.Now(),
	}
}

// Run starts the health monitor and anti-entropy loops, blocking until
// ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return g.healthCheckLoop(ctx) })
	grp.Go(func() error { return g.antiEntropyLoop(ctx) })
	return grp.Wait()
}

// replicasFor returns the primary + backup nodes for key, per spec.md's
// fix to the write/read asymmetry: both SET and GET consult the
// replication list rather than only GET.
func (g *Gateway) replicasFor(key string) []string {
	return g.ring.GetNodesForReplication(key, replicationFanout)
}

func (g *Gateway) isHealthy(nodeID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.healthy[nodeID]
}

// Set routes a write to the first healthy node in key's replication
// list.
func (g *Gateway) Set(ctx context.Context, key string, value json.RawMessage) (json.RawMessage, error) {
	g.totalRequests.Add(1)

	replicas := g.replicasFor(key)
	for _, nodeID := range replicas {
		if !g.isHealthy(nodeID) {
			continue
		}
		resp, err := g.postSet(ctx, g.nodes[nodeID], key, value)
		if err != nil {
			continue
		}
		return resp, nil
	}
	g.failedRequests.Add(1)
	return nil, ErrServiceUnavailable
}

func (g *Gateway) postSet(ctx context.Context, nodeURL, key string, value json.RawMessage) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, routeRequestTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{"key": key, "value": value, "is_replica": false})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeURL+"/set", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Get tries every node in key's replication list in order, returning the
// first successful response — this is the read-side failover the
// reference design already had.
func (g *Gateway) Get(ctx context.Context, key string) (json.RawMessage, error) {
	g.totalRequests.Add(1)

	replicas := g.replicasFor(key)
	for _, nodeID := range replicas {
		if !g.isHealthy(nodeID) {
			continue
		}
		resp, err := g.getFrom(ctx, g.nodes[nodeID], key)
		if err != nil {
			continue
		}
		return resp, nil
	}
	g.failedRequests.Add(1)
	return nil, ErrServiceUnavailable
}

func (g *Gateway) getFrom(ctx context.Context, nodeURL, key string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, routeRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/get/"+key, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node responded %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Delete routes to key's primary node only, consistent with Exists —
// spec.md scopes the write/read-list fix to SET/GET, not DELETE/EXISTS.
func (g *Gateway) Delete(ctx context.Context, key string) (json.RawMessage, error) {
	g.totalRequests.Add(1)

	nodeID, err := g.ring.GetNode(key)
	if err != nil || !g.isHealthy(nodeID) {
		g.failedRequests.Add(1)
		return nil, ErrServiceUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, routeRequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.nodes[nodeID]+"/delete/"+key, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		g.failedRequests.Add(1)
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Exists routes to key's primary node only.
func (g *Gateway) Exists(ctx context.Context, key string) (json.RawMessage, error) {
	g.totalRequests.Add(1)

	nodeID, err := g.ring.GetNode(key)
	if err != nil || !g.isHealthy(nodeID) {
		g.failedRequests.Add(1)
		return nil, ErrServiceUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, routeRequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.nodes[nodeID]+"/exists/"+key, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		g.failedRequests.Add(1)
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// ClusterStatus reports per-node health, used by /cluster/status.
func (g *Gateway) ClusterStatus(ctx context.Context) map[string]any {
	nodes := make(map[string]any, len(g.nodes))
	healthyCount := 0
	for nodeID, url := range g.nodes {
		health, err := g.fetchHealth(ctx, url)
		if err != nil {
			nodes[nodeID] = map[string]any{"status": "unhealthy", "healthy": false, "error": err.Error()}
			continue
		}
		isHealthy := g.isHealthy(nodeID)
		health["healthy"] = isHealthy
		nodes[nodeID] = health
		if isHealthy {
			healthyCount++
		}
	}

	return map[string]any{
		"cluster_size":    len(g.nodes),
		"healthy_nodes":   healthyCount,
		"unhealthy_nodes": len(g.nodes) - healthyCount,
		"nodes":           nodes,
	}
}

func (g *Gateway) fetchHealth(ctx context.Context, nodeURL string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("node responded %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

// Distribution reports each node's key count and a sample of its keys,
// used by /cluster/distribution.
func (g *Gateway) Distribution(ctx context.Context) map[string]any {
	out := make(map[string]any, len(g.nodes))
	for nodeID, url := range g.nodes {
		keys, err := g.fetchKeys(ctx, url)
		if err != nil {
			out[nodeID] = map[string]any{"error": err.Error()}
			continue
		}
		sample := keys
		if len(sample) > 10 {
			sample = sample[:10]
		}
		out[nodeID] = map[string]any{"key_count": len(keys), "keys": sample}
	}
	return out
}

func (g *Gateway) fetchKeys(ctx context.Context, nodeURL string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/keys", nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var body struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Keys, nil
}

// Stats reports gateway and cluster counters for /stats.
func (g *Gateway) Stats() map[string]any {
	total := g.totalRequests.Load()
	failed := g.failedRequests.Load()
	successRate := 100.0
	if total > 0 {
		successRate = float64(total-failed) / float64(total) * 100
	}

	g.mu.RLock()
	healthyCount := 0
	for _, ok := range g.healthy {
		if ok {
			healthyCount++
		}
	}
	g.mu.RUnlock()

	return map[string]any{
		"gateway": map[string]any{
			"uptime_seconds":  int64(time.Since(g.startedAt).Seconds()),
			"total_requests":  total,
			"failed_requests": failed,
			"success_rate":    successRate,
		},
		"cluster": map[string]any{
			"total_nodes":     len(g.nodes),
			"healthy_nodes":   healthyCount,
			"unhealthy_nodes": len(g.nodes) - healthyCount,
		},
	}
}

// Health reports gateway liveness; cluster_healthy requires a strict
// majority of nodes to be healthy.
func (g *Gateway) Health() (status string, clusterHealthy bool) {
	g.mu.RLock()
	healthyCount := 0
	for _, ok := range g.healthy {
		if ok {
			healthyCount++
		}
	}
	g.mu.RUnlock()

	return "healthy", healthyCount >= len(g.nodes)/2+1
}

// healthCheckLoop pings every node's /health on an interval, adding or
// removing it from the ring as its status changes.
func (g *Gateway) healthCheckLoop(ctx context.Context) error {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.checkAllNodes(ctx)
		}
	}
}

func (g *Gateway) checkAllNodes(ctx context.Context) {
	for nodeID, url := range g.nodes {
		_, err := g.fetchHealth(ctx, url)
		wasHealthy := g.isHealthy(nodeID)

		if err == nil {
			if !wasHealthy {
				g.log.Info().Str("node_id", nodeID).Msg("node is back online")
				g.ring.AddNode(nodeID)
				g.setHealthy(nodeID, true)
			}
		} else if wasHealthy {
			g.log.Warn().Str("node_id", nodeID).Err(err).Msg("node is down")
			g.ring.RemoveNode(nodeID)
			g.setHealthy(nodeID, false)
		}
	}
}

func (g *Gateway) setHealthy(nodeID string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.healthy[nodeID] = ok
}

// antiEntropyLoop waits antiEntropyDelay for the cluster to stabilize,
// then reconciles every healthy node pair on antiEntropyPeriod.
func (g *Gateway) antiEntropyLoop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(antiEntropyDelay):
	}

	ticker := time.NewTicker(antiEntropyPeriod)
	defer ticker.Stop()

	for {
		g.runAntiEntropy(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (g *Gateway) runAntiEntropy(ctx context.Context) {
	healthyNodes := g.healthyNodeURLs()
	if len(healthyNodes) < 2 {
		g.log.Info().Int("healthy_nodes", len(healthyNodes)).Msg("skipping anti-entropy, not enough healthy nodes")
		return
	}

	ids := make([]string, 0, len(healthyNodes))
	for id := range healthyNodes {
		ids = append(ids, id)
	}

	synced := 0
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			n, err := g.syncPair(ctx, ids[i], healthyNodes[ids[i]], ids[j], healthyNodes[ids[j]])
			if err != nil {
				g.log.Warn().Str("node_i", ids[i]).Str("node_j", ids[j]).Err(err).Msg("anti-entropy pair sync failed")
				continue
			}
			synced += n
		}
	}
	g.log.Info().Int("keys_synced", synced).Msg("anti-entropy pass complete")
}

func (g *Gateway) healthyNodeURLs() map[string]string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]string, len(g.nodes))
	for id, url := range g.nodes {
		if g.healthy[id] {
			out[id] = url
		}
	}
	return out
}

// syncPair fetches /stats from both nodes, builds Merkle trees, and
// reconciles any divergence using Version-based last-writer-wins — the
// §9 fix for the reference design's "node i's value always wins"
// conflict rule, which wasn't a true LWW at all.
func (g *Gateway) syncPair(ctx context.Context, idI, urlI, idJ, urlJ string) (int, error) {
	statsI, err := g.fetchStats(ctx, urlI)
	if err != nil {
		return 0, fmt.Errorf("fetch stats from %s: %w", idI, err)
	}
	statsJ, err := g.fetchStats(ctx, urlJ)
	if err != nil {
		return 0, fmt.Errorf("fetch stats from %s: %w", idJ, err)
	}

	treeI := merkle.Build(statsI.Data)
	treeJ := merkle.Build(statsJ.Data)
	if treeI.RootHash() == treeJ.RootHash() {
		return 0, nil
	}

	onlyInI, onlyInJ, conflicting := treeI.Diff(treeJ)
	synced := 0

	for _, key := range onlyInI {
		if err := g.replicateSet(ctx, urlJ, key, statsI.Data[key]); err == nil {
			synced++
		}
	}
	for _, key := range onlyInJ {
		if err := g.replicateSet(ctx, urlI, key, statsJ.Data[key]); err == nil {
			synced++
		}
	}
	for _, key := range conflicting {
		winnerURL, winnerValue := g.resolveConflict(urlI, statsI, urlJ, statsJ, key)
		if err := g.replicateSet(ctx, winnerURL, key, winnerValue); err == nil {
			synced++
		}
	}

	return synced, nil
}

// resolveConflict picks the side whose Version is newer for key, and
// returns the OTHER node's URL (the one that needs the winning value
// pushed to it) along with the winning value.
func (g *Gateway) resolveConflict(urlI string, statsI nodeStats, urlJ string, statsJ nodeStats, key string) (targetURL string, value json.RawMessage) {
	verI := statsI.Versions[key]
	verJ := statsJ.Versions[key]
	if verI.After(verJ) {
		return urlJ, statsI.Data[key]
	}
	return urlI, statsJ.Data[key]
}

type nodeStats struct {
	Data     map[string]json.RawMessage `json:"data"`
	Versions map[string]versionJSON     `json:"-"`
}

// versionJSON is a narrow copy of store.Version to avoid gateway
// importing the store package just for this one struct's comparison
// logic, which the anti-entropy conflict resolver needs inline.
type versionJSON struct {
	Counter uint64 `json:"counter"`
	NodeID  string `json:"node_id"`
}

func (v versionJSON) After(other versionJSON) bool {
	if v.Counter != other.Counter {
		return v.Counter > other.Counter
	}
	return v.NodeID > other.NodeID
}

func (g *Gateway) fetchStats(ctx context.Context, nodeURL string) (nodeStats, error) {
	ctx, cancel := context.WithTimeout(ctx, routeRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/stats", nil)
	if err != nil {
		return nodeStats{}, err
	}
	resp, err := g.httpc.Do(req)
	if err != nil {
		return nodeStats{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nodeStats{}, fmt.Errorf("node responded %d", resp.StatusCode)
	}

	var body struct {
		Data     map[string]json.RawMessage `json:"data"`
		Versions map[string]versionJSON     `json:"versions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nodeStats{}, err
	}
	return nodeStats{Data: body.Data, Versions: body.Versions}, nil
}

func (g *Gateway) replicateSet(ctx context.Context, nodeURL, key string, value json.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	body, err := json.Marshal(map[string]any{"key": key, "value": value, "is_replica": true})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeURL+"/set", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node responded %d", resp.StatusCode)
	}
	return nil
}
