// Package bootstrap provides the one-shot cluster initialization flow:
// registering every node as every other node's replication peer, then
// verifying the whole cluster reports healthy before traffic is sent to
// the Gateway.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"kvcluster/pkg/kvlog"
)

const (
	registerTimeout = 5 * time.Second
	verifyTimeout   = 3 * time.Second
)

// ClusterManager drives cluster bootstrap against a fixed node set.
type ClusterManager struct {
	nodes map[string]string // node_id -> base URL
	httpc *http.Client
	log   zerolog.Logger
}

// New creates a ClusterManager over nodes.
func New(nodes map[string]string) *ClusterManager {
	return &ClusterManager{
		nodes: nodes,
		httpc: &http.Client{},
		log:   kvlog.WithComponent("bootstrap"),
	}
}

// RegisterPeers has every node register every other node as a
// replication peer, so each can fan out writes, run read repair, and
// anti-entropy can treat them as a pair.
func (c *ClusterManager) RegisterPeers(ctx context.Context) error {
	c.log.Info().Int("node_count", len(c.nodes)).Msg("registering cluster peers")

	failures := 0
	for nodeID, nodeURL := range c.nodes {
		for peerID, peerURL := range c.nodes {
			if peerID == nodeID {
				continue
			}
			if err := c.registerOne(ctx, nodeURL, peerID, peerURL); err != nil {
				c.log.Warn().Str("node_id", nodeID).Str("peer_id", peerID).Err(err).Msg("failed to register peer")
				failures++
				continue
			}
			c.log.Info().Str("node_id", nodeID).Str("peer_id", peerID).Msg("registered peer")
		}
	}

	if failures > 0 {
		return fmt.Errorf("bootstrap: %d peer registrations failed", failures)
	}
	c.log.Info().Msg("peer registration complete")
	return nil
}

func (c *ClusterManager) registerOne(ctx context.Context, nodeURL, peerID, peerURL string) error {
	ctx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/register_peer?peer_id=%s&peer_url=%s", nodeURL, peerID, peerURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node responded %d", resp.StatusCode)
	}
	return nil
}

// NodeHealth is one node's health check result during verification.
type NodeHealth struct {
	NodeID    string
	Healthy   bool
	StoreSize int
	Peers     int
	Err       error
}

// VerifyCluster polls every node's /health and reports per-node results
// plus whether every node came back healthy.
func (c *ClusterManager) VerifyCluster(ctx context.Context) (results []NodeHealth, allHealthy bool) {
	c.log.Info().Msg("verifying cluster health")
	allHealthy = true

	for nodeID, nodeURL := range c.nodes {
		health, err := c.checkOne(ctx, nodeURL)
		if err != nil {
			c.log.Warn().Str("node_id", nodeID).Err(err).Msg("node unreachable")
			results = append(results, NodeHealth{NodeID: nodeID, Err: err})
			allHealthy = false
			continue
		}
		c.log.Info().Str("node_id", nodeID).Int("store_size", health.StoreSize).Int("peers", health.Peers).Msg("node healthy")
		health.NodeID = nodeID
		health.Healthy = true
		results = append(results, health)
	}

	return results, allHealthy
}

func (c *ClusterManager) checkOne(ctx context.Context, nodeURL string) (NodeHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/health", nil)
	if err != nil {
		return NodeHealth{}, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return NodeHealth{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return NodeHealth{}, fmt.Errorf("node responded %d", resp.StatusCode)
	}

	var body struct {
		StoreSize int `json:"store_size"`
		Peers     int `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return NodeHealth{}, err
	}
	return NodeHealth{StoreSize: body.StoreSize, Peers: body.Peers}, nil
}

// InitializeCluster runs the full bootstrap flow: register peers, give
// them a moment to process, then verify health.
func (c *ClusterManager) InitializeCluster(ctx context.Context) (allHealthy bool, err error) {
	c.log.Info().Int("nodes", len(c.nodes)).Msg("initializing cluster")

	if err := c.RegisterPeers(ctx); err != nil {
		return false, err
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(time.Second):
	}

	_, allHealthy = c.VerifyCluster(ctx)
	if allHealthy {
		c.log.Info().Msg("cluster initialization successful")
	} else {
		c.log.Warn().Msg("cluster initialization incomplete: some nodes unhealthy")
	}
	return allHealthy, nil
}
