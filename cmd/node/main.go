// cmd/node is the main entrypoint for a single KV store node.
//
// Configuration is entirely via flags so a single binary can
// serve any node in the cluster.
//
// Example — single node:
//
//	./node --id node1 --addr :8001 --data-dir /var/kvstore
//
// Example — 3-node cluster (peers register themselves through the
// bootstrap tool, not through node flags):
//
//	./node --id node1 --addr :8001 --data-dir /tmp/kvstore
//	./node --id node2 --addr :8002 --data-dir /tmp/kvstore
//	./node --id node3 --addr :8003 --data-dir /tmp/kvstore
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"kvcluster/internal/api/nodeapi"
	"kvcluster/internal/node"
	"kvcluster/internal/store"
	"kvcluster/pkg/kvlog"
)

func main() {
	nodeID := flag.String("id", "node1", "Unique node identifier")
	addr := flag.String("addr", ":8001", "Listen address (host:port)")
	dataDir := flag.String("data-dir", "/tmp/kvstore", "Directory for WAL and SQLite files")
	workers := flag.Int("workers", 4, "Worker pool size")
	queueSize := flag.Int("queue-size", 100, "Worker pool queue capacity")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	jsonLogs := flag.Bool("json-logs", false, "Emit logs as JSON instead of console format")
	flag.Parse()

	kvlog.Init(kvlog.Config{Level: kvlog.Level(*logLevel), JSONOutput: *jsonLogs})
	log := kvlog.WithNode("cmd/node", *nodeID)

	s, err := store.New(*dataDir, *nodeID)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n := node.New(ctx, *nodeID, s, *workers, *queueSize)
	defer n.Close()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(nodeapi.Logger(), nodeapi.Recovery())

	handler := nodeapi.NewHandler(n)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", *addr).Msg("node listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
}
