package nodeapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"kvcluster/pkg/kvlog"
)

// Logger is a Gin middleware that logs every request with method, path,
// status code, and latency through the structured logger instead of
// log.Printf.
func Logger() gin.HandlerFunc {
	log := kvlog.WithComponent("nodeapi")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Recovery recovers panics and logs them in a structured way.
func Recovery() gin.HandlerFunc {
	log := kvlog.WithComponent("nodeapi")
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().Interface("panic", err).Msg("recovered panic")
				c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}
