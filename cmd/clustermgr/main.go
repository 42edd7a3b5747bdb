// cmd/clustermgr is a one-shot bootstrap tool: it registers every node
// as every other node's replication peer, then verifies the whole
// cluster reports healthy. Run it once after starting a fresh set of
// nodes and before starting the Gateway.
//
// Example:
//
//	./clustermgr --nodes node1=http://localhost:8001,node2=http://localhost:8002,node3=http://localhost:8003
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"kvcluster/internal/bootstrap"
	"kvcluster/pkg/kvlog"
)

func main() {
	nodesFlag := flag.String("nodes", "", "Comma-separated list of nodes: id=http://host:port")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	flag.Parse()

	kvlog.Init(kvlog.Config{Level: kvlog.Level(*logLevel)})
	log := kvlog.WithComponent("cmd/clustermgr")

	nodes, err := parseNodes(*nodesFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid --nodes")
	}
	if len(nodes) == 0 {
		log.Fatal().Msg("at least one node is required via --nodes")
	}

	cm := bootstrap.New(nodes)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	healthy, err := cm.InitializeCluster(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("cluster initialization failed")
	}
	if !healthy {
		os.Exit(1)
	}
}

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
