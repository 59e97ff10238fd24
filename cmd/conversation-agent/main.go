// Command conversation-agent runs the Conversation agent process
// (§4.5.1): format detection, structure validation, and metadata
// extraction for an incoming OpenEphys dataset.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentic-nwb/orchestrator/internal/agentbase"
	"github.com/agentic-nwb/orchestrator/internal/config"
	"github.com/agentic-nwb/orchestrator/internal/conversation"
	"github.com/agentic-nwb/orchestrator/internal/llm"
	"github.com/agentic-nwb/orchestrator/internal/logging"
	"github.com/agentic-nwb/orchestrator/internal/obs"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

func main() {
	cfg, err := config.LoadAgentConfig("CONVERSATION")
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

	llmClient := llm.NewClient(provider, cfg, logger, obsProvider)

	base := agentbase.New(cfg, session.AgentConversation, conversation.Capabilities(), logger, obsProvider)
	conversation.New(cfg, base, llmClient)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := base.Run(ctx); err != nil {
		logger.Error("conversation agent exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}
