package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"coopchain/config"
	"coopchain/core"
	"coopchain/crypto"
	"coopchain/observability/logging"
	"coopchain/rpc"
	"coopchain/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	envName      = "COOP_ENV"
	authTokenEnv = "COOP_RPC_TOKEN"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envName))
	logger := logging.Setup("coopd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	custody, err := crypto.DecodeAddress(cfg.Owner)
	if err != nil {
		logger.Error("Failed to decode owner address", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db, custody, logger)
	if err := node.InitGenesis(cfg.Owner, cfg.WeightToken); err != nil {
		logger.Error("Failed to initialise protocol state", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.MetricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Error("Metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	authToken := strings.TrimSpace(os.Getenv(authTokenEnv))
	if authToken == "" {
		authToken = cfg.RPCAuthToken
	}
	if authToken == "" {
		logger.Warn("RPC auth token not set; mutating methods are unauthenticated")
	}

	server := rpc.NewServer(node, authToken)
	logger.Info("Starting JSON-RPC server", "address", cfg.RPCAddress, "network", cfg.NetworkName)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
