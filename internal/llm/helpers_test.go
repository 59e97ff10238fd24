package llm_test

import "github.com/agentic-nwb/orchestrator/internal/config"

func testAgentConfig() *config.AgentConfig {
	return &config.AgentConfig{
		ModelID:     "test-model",
		Temperature: 0.2,
		MaxTokens:   256,
		TopP:        1.0,
	}
}
