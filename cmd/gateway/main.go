// cmd/gateway is the entrypoint for the cluster's single client-facing
// entry point: it routes requests to nodes by consistent hash, monitors
// node health, and runs anti-entropy reconciliation in the background.
//
// Example — 3-node cluster:
//
//	./gateway --addr :8000 \
//	          --nodes node1=http://localhost:8001,node2=http://localhost:8002,node3=http://localhost:8003
package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"kvcluster/internal/api/gatewayapi"
	"kvcluster/internal/gateway"
	"kvcluster/pkg/kvlog"
)

func main() {
	addr := flag.String("addr", ":8000", "Listen address (host:port)")
	nodesFlag := flag.String("nodes", "", "Comma-separated list of nodes: id=http://host:port")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	jsonLogs := flag.Bool("json-logs", false, "Emit logs as JSON instead of console format")
	flag.Parse()

	kvlog.Init(kvlog.Config{Level: kvlog.Level(*logLevel), JSONOutput: *jsonLogs})
	log := kvlog.WithComponent("cmd/gateway")

	nodes, err := parseNodes(*nodesFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid --nodes")
	}
	if len(nodes) == 0 {
		log.Fatal().Msg("at least one node is required via --nodes")
	}

	gw := gateway.New(nodes)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := gw.Run(ctx); err != nil {
			log.Error().Err(err).Msg("gateway background loops stopped")
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gatewayapi.Logger(), gatewayapi.Recovery())

	handler := gatewayapi.NewHandler(gw)
	handler.Register(router)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", *addr).Int("nodes", len(nodes)).Msg("gateway listening")
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

// parseNodes parses "id1=url1,id2=url2" into a node map.
func parseNodes(flagValue string) (map[string]string, error) {
	nodes := make(map[string]string)
	if flagValue == "" {
		return nodes, nil
	}
	for _, entry := range strings.Split(flagValue, ",") {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, errInvalidNodeEntry(entry)
		}
		nodes[parts[0]] = parts[1]
	}
	return nodes, nil
}

type errInvalidNodeEntry string

func (e errInvalidNodeEntry) Error() string {
	return "invalid node entry " + string(e) + ": expected id=http://host:port"
}
