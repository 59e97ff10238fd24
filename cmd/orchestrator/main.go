// Command orchestrator runs the orchestrator process: the Session
// Store, Agent Registry, Message Router, and workflow state machine
// exposed over HTTP (§4, §6).
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/agentic-nwb/orchestrator/internal/config"
	"github.com/agentic-nwb/orchestrator/internal/logging"
	"github.com/agentic-nwb/orchestrator/internal/obs"
	"github.com/agentic-nwb/orchestrator/internal/orchestratorapi"
	"github.com/agentic-nwb/orchestrator/internal/registry"
	"github.com/agentic-nwb/orchestrator/internal/router"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

func main() {
	cfg := config.Load()
	logger := logging.New("orchestrator")

	cache, err := session.NewRedisCache(cfg.CacheURL, logger)
	if err != nil {
		logger.Error("failed to connect to cache tier", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	durable, err := session.NewFilesystemStore(cfg.SessionStoreDir)
	if err != nil {
		logger.Error("failed to initialize durable store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	store := session.NewStore(cache, durable, cfg.CacheTTL, logger)
	reg := registry.New()
	msgRouter := router.New(reg, cfg.RouterTimeout, cfg.RouterMaxTimeout, logger)

	obsProvider, err := obs.New("orchestrator")
	if err != nil {
		logger.Warn("observability init failed, continuing without it", map[string]interface{}{"error": err.Error()})
		obsProvider = nil
	}

	srv := orchestratorapi.New(orchestratorapi.Config{
		Store:     store,
		Registry:  reg,
		Router:    msgRouter,
		Cache:     cache,
		OutputDir: cfg.OutputDir,
		Version:   "0.1.0",
		Logger:    logger,
		Obs:       obsProvider,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	if err := srv.Run(ctx, addr); err != nil {
		logger.Error("orchestrator exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
