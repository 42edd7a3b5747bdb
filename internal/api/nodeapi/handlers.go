// Package nodeapi wires a node.Node up to Gin per spec.md's NodeServer
// HTTP surface.
package nodeapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"kvcluster/internal/node"
	"kvcluster/internal/store"
)

// Handler holds the Node dependency injected from cmd/node.
type Handler struct {
	n *node.Node
}

// NewHandler creates a Handler.
func NewHandler(n *node.Node) *Handler {
	return &Handler{n: n}
}

// Register mounts every NodeServer route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/set", h.Set)
	r.GET("/get/:key", h.Get)
	r.DELETE("/delete/:key", h.Delete)
	r.GET("/exists/:key", h.Exists)
	r.GET("/keys", h.Keys)
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
	r.POST("/register_peer", h.RegisterPeer)
}

type setRequest struct {
	Key       string          `json:"key" binding:"required"`
	Value     json.RawMessage `json:"value" binding:"required"`
	IsReplica bool            `json:"is_replica"`
}

// Set handles POST /set.
func (h *Handler) Set(c *gin.Context) {
	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.n.Set(c.Request.Context(), req.Key, req.Value, req.IsReplica); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "node_id": h.n.ID})
}

// Get handles GET /get/:key.
func (h *Handler) Get(c *gin.Context) {
	key := c.Param("key")

	value, ok, err := h.n.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"key": key, "value": nil, "node_id": h.n.ID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value, "node_id": h.n.ID})
}

// Delete handles DELETE /delete/:key.
func (h *Handler) Delete(c *gin.Context) {
	key := c.Param("key")

	if err := h.n.Delete(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "node_id": h.n.ID})
}

// Exists handles GET /exists/:key.
func (h *Handler) Exists(c *gin.Context) {
	key := c.Param("key")

	exists, err := h.n.Exists(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "exists": exists, "node_id": h.n.ID})
}

// Keys handles GET /keys.
func (h *Handler) Keys(c *gin.Context) {
	keys, err := h.n.Keys(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys, "count": len(keys), "node_id": h.n.ID})
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	health, err := h.n.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, health)
}

// Stats handles GET /stats: the /health payload plus a full data snapshot,
// consumed by the Gateway's anti-entropy Merkle comparisons.
func (h *Handler) Stats(c *gin.Context) {
	health, err := h.n.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	withVersions, err := h.n.ItemsWithVersions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	data := make(map[string]json.RawMessage, len(withVersions))
	versions := make(map[string]store.Version, len(withVersions))
	for k, v := range withVersions {
		data[k] = v.Value
		versions[k] = v.Version
	}
	c.JSON(http.StatusOK, gin.H{
		"node_id":              health.NodeID,
		"status":               health.Status,
		"uptime_seconds":       health.UptimeSeconds,
		"store_size":           health.StoreSize,
		"total_reads":          health.TotalReads,
		"total_writes":         health.TotalWrites,
		"replication_failures": health.ReplicationFailures,
		"peers":                health.Peers,
		"data":                 data,
		"versions":             versions,
	})
}

// RegisterPeer handles POST /register_peer?peer_id=&peer_url=.
func (h *Handler) RegisterPeer(c *gin.Context) {
	peerID := c.Query("peer_id")
	peerURL := c.Query("peer_url")
	if peerID == "" || peerURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer_id and peer_url are required"})
		return
	}

	total := h.n.RegisterPeer(peerID, peerURL)
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"message":      "registered peer " + peerID,
		"total_peers":  total,
	})
}
