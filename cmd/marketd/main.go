package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"fairmarket/config"
	"fairmarket/core/state"
	"fairmarket/crypto"
	"fairmarket/market"
	"fairmarket/observability/logging"
	"fairmarket/rpc"
	"fairmarket/storage"
)

const sellerPassEnv = "MARKET_SELLER_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MARKET_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("marketd", env, logging.Options{File: cfg.LogFile})

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	sellerKey, err := crypto.LoadFromKeystore(cfg.SellerKeystorePath, os.Getenv(sellerPassEnv))
	if err != nil {
		logger.Error("Failed to load seller key", slog.Any("error", err))
		os.Exit(1)
	}
	sellerAddr := sellerKey.PubKey().Address()

	manager := state.NewManager(db)
	alloc, err := config.ParseAlloc(cfg.Alloc)
	if err != nil {
		logger.Error("Failed to parse genesis allocation", slog.Any("error", err))
		os.Exit(1)
	}
	if err := manager.ApplyGenesisAlloc(alloc); err != nil {
		logger.Error("Failed to apply genesis allocation", slog.Any("error", err))
		os.Exit(1)
	}

	engine := market.NewEngine(sellerAddr.Raw(), cfg.TimeoutSeconds)
	engine.SetState(manager)
	engine.SetSellerKey(sellerKey.PubKey().Bytes())

	logger.Info("market node ready",
		slog.String("network", cfg.NetworkName),
		slog.String("seller", sellerAddr.String()),
		slog.Int64("timeoutSeconds", cfg.TimeoutSeconds),
	)

	server := rpc.NewServer(engine, logger)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
