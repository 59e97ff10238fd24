// Command conversion-agent runs the Conversion agent process
// (§4.5.2): builds NWB metadata substructures and delegates to the
// conversion library, handing off to Evaluation on success.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentic-nwb/orchestrator/internal/agentbase"
	"github.com/agentic-nwb/orchestrator/internal/config"
	"github.com/agentic-nwb/orchestrator/internal/conversion"
	"github.com/agentic-nwb/orchestrator/internal/llm"
	"github.com/agentic-nwb/orchestrator/internal/logging"
	"github.com/agentic-nwb/orchestrator/internal/obs"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

// explanationTemperature is deliberately low (§4.5.2 step 5:
// "temperature low") so the remediation message stays literal rather
// than speculative.
const explanationTemperature = 0.1

func main() {
	cfg, err := config.LoadAgentConfig("CONVERSION")
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

	explainerCfg := *cfg
	explainerCfg.Temperature = explanationTemperature
	explainer := llm.NewClient(provider, &explainerCfg, logger, obsProvider)

	base := agentbase.New(cfg, session.AgentConversion, conversion.Capabilities(), logger, obsProvider)
	conversion.New(base, conversion.StubConverter{}, explainer, cfg.OutputDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := base.Run(ctx); err != nil {
		logger.Error("conversion agent exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
