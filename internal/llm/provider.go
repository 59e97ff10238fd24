// Package llm implements the provider-agnostic call_llm abstraction
// (§4.5): a single Provider interface with two concrete
// implementations (cloud, local), plus the bounded-retry wrapper that
// every agent's call_llm goes through.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/config"
)

// Options carries the per-call generation parameters, sourced from
// agent-specific config (§4.5: "different agents may use different
// settings").
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
	TopP        float32
}

// Provider generates one completion for a prompt plus optional system
// message. Implementations must classify failures using the
// apierrors sentinels so the retry wrapper in retry.go can apply the
// right backoff policy.
type Provider interface {
	Complete(ctx context.Context, prompt, systemMessage string, opts Options) (string, error)
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float32 `json:"top_p"`
}

type completionResponse struct {
	Completion string `json:"completion"`
	Error      string `json:"error,omitempty"`
}

// CloudProvider calls a remote-service completion API with a bearer
// credential (§4.5's "cloud" provider kind). It speaks a generic
// completions-style JSON contract rather than any one vendor's SDK,
// matching the way the pack's own AI clients (e.g. the OpenAI/
// Anthropic clients in the teacher's ai/providers tree) hit their
// APIs over plain net/http rather than a vendored SDK.
type CloudProvider struct {
	baseURL    string
	credential string
	httpClient *http.Client
}

// NewCloudProvider builds a cloud provider. baseURL defaults to a
// generic completions endpoint if empty.
func NewCloudProvider(baseURL, credential string, timeout time.Duration) *CloudProvider {
	if baseURL == "" {
		baseURL = "https://api.llm-provider.example/v1/completions"
	}
	return &CloudProvider{
		baseURL:    baseURL,
		credential: credential,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *CloudProvider) Complete(ctx context.Context, prompt, systemMessage string, opts Options) (string, error) {
	if p.credential == "" {
		return "", apierrors.New("llm.CloudProvider.Complete", "config", fmt.Errorf("missing API credential"))
	}
	return doCompletion(ctx, p.httpClient, p.baseURL, p.credential, prompt, systemMessage, opts)
}

// LocalProvider speaks to a local HTTP endpoint (§4.5's "local"
// provider kind, e.g. a same-host model server) with no credential.
type LocalProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewLocalProvider builds a local provider against baseURL (required).
func NewLocalProvider(baseURL string, timeout time.Duration) *LocalProvider {
	return &LocalProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *LocalProvider) Complete(ctx context.Context, prompt, systemMessage string, opts Options) (string, error) {
	if p.baseURL == "" {
		return "", apierrors.New("llm.LocalProvider.Complete", "config", fmt.Errorf("missing local provider base URL"))
	}
	return doCompletion(ctx, p.httpClient, p.baseURL, "", prompt, systemMessage, opts)
}

func doCompletion(ctx context.Context, client *http.Client, url, bearer, prompt, systemMessage string, opts Options) (string, error) {
	reqBody := completionRequest{
		Model:       opts.Model,
		Prompt:      prompt,
		System:      systemMessage,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", apierrors.New("llm.doCompletion", "encode", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", apierrors.New("llm.doCompletion", "config", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return "", apierrors.New("llm.doCompletion", "transient", fmt.Errorf("%w: %v", apierrors.ErrLLMTransient, err))
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", apierrors.New("llm.doCompletion", "rate_limited", apierrors.ErrLLMRateLimited)
	case resp.StatusCode >= 500:
		return "", apierrors.New("llm.doCompletion", "transient", fmt.Errorf("%w: status %d", apierrors.ErrLLMTransient, resp.StatusCode))
	case resp.StatusCode >= 400:
		return "", apierrors.New("llm.doCompletion", "config", fmt.Errorf("non-retryable provider error: status %d: %s", resp.StatusCode, string(body)))
	}

	var out completionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", apierrors.New("llm.doCompletion", "config", fmt.Errorf("malformed provider response: %w", err))
	}
	if out.Error != "" {
		return "", apierrors.New("llm.doCompletion", "config", fmt.Errorf("provider reported error: %s", out.Error))
	}
	return out.Completion, nil
}

// NewProvider builds the Provider pinned by cfg.Provider for the
// lifetime of the agent process (§4.5: "the agent pins one provider
// for its lifetime").
func NewProvider(cfg *config.AgentConfig) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderCloud:
		return NewCloudProvider(cfg.BaseURL, cfg.APICredential, cfg.RequestTimeout), nil
	case config.ProviderLocal:
		return NewLocalProvider(cfg.BaseURL, cfg.RequestTimeout), nil
	default:
		return nil, apierrors.New("llm.NewProvider", "config", fmt.Errorf("unsupported provider kind %q", cfg.Provider))
	}
}
