// Command evaluation-agent runs the Evaluation agent process
// (§4.5.3): the terminal stage of the pipeline, validating the
// produced NWB file and persisting a validation report.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentic-nwb/orchestrator/internal/agentbase"
	"github.com/agentic-nwb/orchestrator/internal/config"
	"github.com/agentic-nwb/orchestrator/internal/evaluation"
	"github.com/agentic-nwb/orchestrator/internal/llm"
	"github.com/agentic-nwb/orchestrator/internal/logging"
	"github.com/agentic-nwb/orchestrator/internal/obs"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

func main() {
	cfg, err := config.LoadAgentConfig("EVALUATION")
	if err != nil {
		os.Exit(1)
	}

	logger := logging.New(cfg.AgentName)

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		logger.Error("failed to build llm provider", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	obsProvider, err := obs.New(cfg.AgentName)
	if err != nil {
		logger.Warn("observability init failed, continuing without it", map[string]interface{}{"error": err.Error()})
		obsProvider = nil
	}

	summarizer := llm.NewClient(provider, cfg, logger, obsProvider)

	base := agentbase.New(cfg, session.AgentEvaluation, evaluation.Capabilities(), logger, obsProvider)
	evaluation.New(base, evaluation.StubValidator{}, summarizer, cfg.OutputDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := base.Run(ctx); err != nil {
		logger.Error("evaluation agent exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
