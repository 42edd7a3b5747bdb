// Package gatewayapi wires a gateway.Gateway up to Gin per spec.md's
// Gateway HTTP surface.
package gatewayapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"kvcluster/internal/gateway"
)

// Handler holds the Gateway dependency injected from cmd/gateway.
type Handler struct {
	gw *gateway.Gateway
}

// NewHandler creates a Handler.
func NewHandler(gw *gateway.Gateway) *Handler {
	return &Handler{gw: gw}
}

// Register mounts every Gateway route on r.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/set/:key", h.Set)
	r.GET("/get/:key", h.Get)
	r.DELETE("/delete/:key", h.Delete)
	r.GET("/exists/:key", h.Exists)
	r.GET("/cluster/status", h.ClusterStatus)
	r.GET("/cluster/distribution", h.ClusterDistribution)
	r.GET("/stats", h.Stats)
	r.GET("/health", h.Health)
}

type setRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// Set handles POST /set/:key.
func (h *Handler) Set(c *gin.Context) {
	key := c.Param("key")

	var req setRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.gw.Set(c.Request.Context(), key, req.Value)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// Get handles GET /get/:key.
func (h *Handler) Get(c *gin.Context) {
	key := c.Param("key")

	resp, err := h.gw.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// Delete handles DELETE /delete/:key.
func (h *Handler) Delete(c *gin.Context) {
	key := c.Param("key")

	resp, err := h.gw.Delete(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// Exists handles GET /exists/:key.
func (h *Handler) Exists(c *gin.Context) {
	key := c.Param("key")

	resp, err := h.gw.Exists(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", resp)
}

// ClusterStatus handles GET /cluster/status.
func (h *Handler) ClusterStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.gw.ClusterStatus(c.Request.Context()))
}

// ClusterDistribution handles GET /cluster/distribution.
func (h *Handler) ClusterDistribution(c *gin.Context) {
	c.JSON(http.StatusOK, h.gw.Distribution(c.Request.Context()))
}

// Stats handles GET /stats.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.gw.Stats())
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	status, clusterHealthy := h.gw.Health()
	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"cluster_healthy": clusterHealthy,
	})
}
