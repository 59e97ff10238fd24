// Package router implements the Message Router (§4.3): typed
// request/response over HTTP to registered agents, with per-call
// timeouts and at-most-once delivery.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/envelope"
	"github.com/agentic-nwb/orchestrator/internal/logging"
	"github.com/agentic-nwb/orchestrator/internal/registry"
)

const sourceAgent = "orchestrator"

// Router sends typed envelopes to agents registered in reg and
// returns their responses. It does not retry routed execute calls
// automatically (§4.3: "the orchestrator does not retry... retry only
// on explicit user clarification").
type Router struct {
	reg            *registry.Registry
	httpClient     *http.Client
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	logger         logging.Logger
}

// New builds a Router over reg. Every call uses defaultTimeout, or
// maxTimeout when defaultTimeout is unset or exceeds it; the same
// timeout applies to every agent.
func New(reg *registry.Registry, defaultTimeout, maxTimeout time.Duration, logger logging.Logger) *Router {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Router{
		reg:            reg,
		httpClient:     &http.Client{},
		defaultTimeout: defaultTimeout,
		maxTimeout:     maxTimeout,
		logger:         logger.WithComponent("router"),
	}
}

// Send builds an envelope of msgType and POSTs it to target's message
// endpoint, returning the decoded response envelope.
func (r *Router) Send(ctx context.Context, target string, msgType envelope.Type, sessionID string, payload map[string]interface{}) (*envelope.Envelope, error) {
	rec, err := r.reg.Get(target)
	if err != nil {
		return nil, err
	}

	env := envelope.New(sourceAgent, target, sessionID, msgType, payload)

	timeout := r.defaultTimeout
	if timeout <= 0 || timeout > r.maxTimeout {
		timeout = r.maxTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(env)
	if err != nil {
		return nil, apierrors.New("router.Send", "encode", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, rec.BaseURL+"/mcp/message", bytes.NewReader(body))
	if err != nil {
		return nil, apierrors.New("router.Send", "config", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, apierrors.New("router.Send", "timeout", fmt.Errorf("%w: %v", apierrors.ErrTimeout, err)).WithID(target)
		}
		return nil, apierrors.New("router.Send", "transport", fmt.Errorf("%w: %v", apierrors.ErrTransport, err)).WithID(target)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, apierrors.New("router.Send", "remote_error", fmt.Errorf("agent %s returned status %d: %s", target, resp.StatusCode, string(raw)))
	}

	var respEnv envelope.Envelope
	if err := json.Unmarshal(raw, &respEnv); err != nil {
		return nil, apierrors.New("router.Send", "remote_error", fmt.Errorf("malformed response from %s: %w", target, err))
	}
	return &respEnv, nil
}

// Execute is a convenience wrapper over Send with type
// TypeAgentExecute (§4.3).
func (r *Router) Execute(ctx context.Context, target, task, sessionID string, parameters map[string]interface{}) (*envelope.ResponsePayload, error) {
	payload, err := envelope.EncodeFrom(envelope.ExecutePayload{Task: task, Parameters: parameters})
	if err != nil {
		return nil, apierrors.New("router.Execute", "encode", err)
	}

	respEnv, err := r.Send(ctx, target, envelope.TypeAgentExecute, sessionID, payload)
	if err != nil {
		return nil, err
	}

	var respPayload envelope.ResponsePayload
	if err := envelope.DecodeInto(respEnv.Payload, &respPayload); err != nil {
		return nil, apierrors.New("router.Execute", "remote_error", fmt.Errorf("malformed agent_response payload: %w", err))
	}
	return &respPayload, nil
}
