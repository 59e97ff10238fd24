package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderKind is the closed set spec §4.5 names for call_llm: a
// remote-service API with a bearer credential, or a local HTTP
// endpoint.
type ProviderKind string

const (
	ProviderCloud ProviderKind = "cloud"
	ProviderLocal ProviderKind = "local"
)

// AgentConfig is the per-agent configuration surface (§6.5
// "Per-agent"), one instance per process (conversation / conversion /
// evaluation), each reading its own env-var namespace so the three
// processes can run with distinct LLM tuning.
type AgentConfig struct {
	AgentName       string
	Port            int
	OrchestratorURL string
	OutputDir       string

	Provider    ProviderKind
	ModelID     string
	BaseURL     string // required for ProviderLocal; optional override for ProviderCloud
	APICredential string

	Temperature float32
	MaxTokens   int
	TopP        float32

	RequestTimeout time.Duration
	MaxRetries     int
}

// LoadAgentConfig reads the {envPrefix}_* environment variables
// (envPrefix e.g. "CONVERSATION", "CONVERSION", "EVALUATION") so
// the three agent processes don't collide, then layers an optional
// YAML tuning file on top (generalizing the teacher's YAML-driven
// workflow config to per-agent LLM tuning, per SPEC_FULL §11).
func LoadAgentConfig(envPrefix string, opts ...AgentOption) (*AgentConfig, error) {
	c := &AgentConfig{
		AgentName:       defaultAgentName(envPrefix),
		Port:            8081,
		OrchestratorURL: "http://localhost:8080",
		OutputDir:       "./data/output",
		Provider:        ProviderCloud,
		ModelID:         "default-model",
		Temperature:     0.7,
		MaxTokens:       1024,
		TopP:            1.0,
		RequestTimeout:  60 * time.Second,
		MaxRetries:      5,
	}

	env := func(suffix string) string { return os.Getenv(envPrefix + "_" + suffix) }

	if v := env("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := env("ORCHESTRATOR_URL"); v != "" {
		c.OrchestratorURL = v
	}
	if v := env("OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := env("PROVIDER"); v != "" {
		c.Provider = ProviderKind(v)
	}
	if v := env("MODEL_ID"); v != "" {
		c.ModelID = v
	}
	if v := env("BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := env("API_CREDENTIAL"); v != "" {
		c.APICredential = v
	}
	if v := env("TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.Temperature = float32(f)
		}
	}
	if v := env("MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxTokens = n
		}
	}
	if v := env("TOP_P"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			c.TopP = float32(f)
		}
	}
	if v := env("REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RequestTimeout = time.Duration(n) * time.Second
		}
	}
	if v := env("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}

	if path := env("TUNING_FILE"); path != "" {
		if err := mergeYAMLTuning(c, path); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Default agent names, used both as the registration identity an
// agent process picks unless overridden and as the target name its
// peers use when requesting a handoff (§4.5's RequestHandoff) - a
// well-known convention rather than a discovery lookup, matching
// MVP's single-instance-per-type assumption (§4.2).
const (
	ConversationAgentName = "conversation-agent"
	ConversionAgentName   = "conversion-agent"
	EvaluationAgentName   = "evaluation-agent"
)

func defaultAgentName(envPrefix string) string {
	switch envPrefix {
	case "CONVERSATION":
		return ConversationAgentName
	case "CONVERSION":
		return ConversionAgentName
	case "EVALUATION":
		return EvaluationAgentName
	default:
		return envPrefix
	}
}

// AgentOption mutates an AgentConfig under construction.
type AgentOption func(*AgentConfig)

func WithAgentPort(p int) AgentOption             { return func(c *AgentConfig) { c.Port = p } }
func WithOrchestratorURL(u string) AgentOption    { return func(c *AgentConfig) { c.OrchestratorURL = u } }
func WithProvider(p ProviderKind) AgentOption     { return func(c *AgentConfig) { c.Provider = p } }

type yamlTuning struct {
	Temperature *float32 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens"`
	TopP        *float32 `yaml:"top_p"`
	ModelID     *string  `yaml:"model_id"`
}

func mergeYAMLTuning(c *AgentConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var t yamlTuning
	if err := yaml.Unmarshal(data, &t); err != nil {
		return err
	}
	if t.Temperature != nil {
		c.Temperature = *t.Temperature
	}
	if t.MaxTokens != nil {
		c.MaxTokens = *t.MaxTokens
	}
	if t.TopP != nil {
		c.TopP = *t.TopP
	}
	if t.ModelID != nil {
		c.ModelID = *t.ModelID
	}
	return nil
}
