// Package agentbase is the shared Agent Framework base (§4.5): the
// parts of every agent process that are identical across Conversation,
// Conversion, and Evaluation — startup registration, the context RPC
// client, the message-intake HTTP endpoint, and handoff requests back
// to the orchestrator. It is the Go-native analogue of the teacher's
// core.BaseAgent: a small struct that owns an *http.Server and a
// dispatch table, generalized here from "capabilities" to "tasks".
package agentbase

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
	"github.com/agentic-nwb/orchestrator/internal/envelope"
	"github.com/agentic-nwb/orchestrator/internal/logging"
	"github.com/agentic-nwb/orchestrator/internal/obs"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

// TaskHandler implements one entry of an agent's task dispatch table
// (§4.5: "Dispatch is a plain table lookup per agent"). It returns a
// result bag on success; errors always cause a failed response
// envelope.
type TaskHandler func(ctx context.Context, sessionID string, params map[string]interface{}) (map[string]interface{}, error)

// Base is embedded-by-composition (not struct embedding) in each
// agent's process: conversation/conversion/evaluation each hold a
// *Base plus their own task handlers and LLM client.
type Base struct {
	cfg          *config.AgentConfig
	agentType    session.AgentType
	capabilities []string

	httpClient *http.Client
	logger     logging.Logger
	obs        *obs.Provider

	tasks map[string]TaskHandler

	httpServer *http.Server
}

// New builds a Base for the given agent type and capability set. The
// caller registers its task handlers with Handle before calling Run.
func New(cfg *config.AgentConfig, agentType session.AgentType, capabilities []string, logger logging.Logger, obsProvider *obs.Provider) *Base {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &Base{
		cfg:          cfg,
		agentType:    agentType,
		capabilities: capabilities,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		logger:       logger.WithComponent(fmt.Sprintf("agent/%s", agentType)),
		obs:          obsProvider,
		tasks:        make(map[string]TaskHandler),
	}
}

// Handle registers a task handler under name.
func (b *Base) Handle(name string, h TaskHandler) {
	b.tasks[name] = h
}

// baseURL is this process's own externally-reachable address, sent to
// the orchestrator at self-registration. Calls to the orchestrator's
// internal endpoints use cfg.OrchestratorURL instead.
func (b *Base) baseURL() string {
	return fmt.Sprintf("http://localhost:%d", b.cfg.Port)
}

// Register performs the §4.5 startup registration call:
// POST {orchestrator}/internal/register_agent. Run calls it once at
// startup; a failure is logged and not retried, and there is no
// automatic re-registration when the orchestrator restarts.
func (b *Base) Register(ctx context.Context) error {
	payload := envelope.RegisterPayload{
		AgentName:    b.cfg.AgentName,
		AgentType:    string(b.agentType),
		Capabilities: b.capabilities,
		BaseURL:      b.baseURL(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return apierrors.New("agentbase.Register", "encode", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.OrchestratorURL+"/internal/register_agent", bytes.NewReader(data))
	if err != nil {
		return apierrors.New("agentbase.Register", "config", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return apierrors.New("agentbase.Register", "transport", fmt.Errorf("%w: %v", apierrors.ErrTransport, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apierrors.New("agentbase.Register", "remote_error", fmt.Errorf("orchestrator rejected registration: status %d: %s", resp.StatusCode, string(body)))
	}

	b.logger.Info("registered with orchestrator", map[string]interface{}{
		"agent_name": b.cfg.AgentName,
		"base_url":   b.baseURL(),
	})
	return nil
}

// GetContext implements the read side of the §4.5 Context RPC:
// GET {orchestrator}/internal/sessions/{id}/context.
func (b *Base) GetContext(ctx context.Context, sessionID string) (*session.Context, error) {
	url := fmt.Sprintf("%s/internal/sessions/%s/context", b.cfg.OrchestratorURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apierrors.New("agentbase.GetContext", "config", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, apierrors.New("agentbase.GetContext", "transport", fmt.Errorf("%w: %v", apierrors.ErrTransport, err))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return nil, apierrors.New("agentbase.GetContext", "not_found", apierrors.ErrUnknownSession).WithID(sessionID)
	}
	if resp.StatusCode >= 400 {
		return nil, apierrors.New("agentbase.GetContext", "remote_error", fmt.Errorf("orchestrator returned status %d: %s", resp.StatusCode, string(raw)))
	}

	var ctxVal session.Context
	if err := json.Unmarshal(raw, &ctxVal); err != nil {
		return nil, apierrors.New("agentbase.GetContext", "remote_error", fmt.Errorf("malformed context response: %w", err))
	}
	return &ctxVal, nil
}

// ContextPatch is the field-scoped patch bag an agent may submit,
// mirroring workflow.Patch's JSON shape without importing the
// orchestrator-only workflow package into agent processes.
type ContextPatch struct {
	DatasetInfo       *session.DatasetInfo       `json:"dataset_info,omitempty"`
	Metadata          *session.Metadata          `json:"metadata,omitempty"`
	ConversionResults *session.ConversionResults `json:"conversion_results,omitempty"`
	ValidationResults *session.ValidationResults `json:"validation_results,omitempty"`
	OutputNWBPath     *string                    `json:"output_nwb_path,omitempty"`
	OutputReportPath  *string                    `json:"output_report_path,omitempty"`
}

// PatchContext implements the write side of the §4.5 Context RPC:
// PATCH {orchestrator}/internal/sessions/{id}/context. Agents never
// write the store directly (§4.5).
func (b *Base) PatchContext(ctx context.Context, sessionID string, patch ContextPatch) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return apierrors.New("agentbase.PatchContext", "encode", err)
	}

	url := fmt.Sprintf("%s/internal/sessions/%s/context", b.cfg.OrchestratorURL, sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(data))
	if err != nil {
		return apierrors.New("agentbase.PatchContext", "config", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return apierrors.New("agentbase.PatchContext", "transport", fmt.Errorf("%w: %v", apierrors.ErrTransport, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return apierrors.New("agentbase.PatchContext", "invalid_patch", apierrors.ErrInvalidPatch)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apierrors.New("agentbase.PatchContext", "remote_error", fmt.Errorf("orchestrator rejected patch: status %d: %s", resp.StatusCode, string(body)))
	}
	return nil
}

// RequestHandoff implements the §4.5 handoff primitive: after an
// agent patches the context with its results, it asks the
// orchestrator to advance the workflow and dispatch targetAgent by
// calling POST {orchestrator}/internal/route_message. This call
// blocks until the target agent's own task (and any further handoffs
// it triggers) completes, matching the synchronous chain in §5.
func (b *Base) RequestHandoff(ctx context.Context, sessionID, targetAgent, task string, parameters map[string]interface{}) error {
	payload, err := envelope.EncodeFrom(envelope.ExecutePayload{Task: task, Parameters: parameters})
	if err != nil {
		return apierrors.New("agentbase.RequestHandoff", "encode", err)
	}

	body := struct {
		SourceAgent string                 `json:"source_agent"`
		TargetAgent string                 `json:"target_agent"`
		MessageType envelope.Type          `json:"message_type"`
		SessionID   string                 `json:"session_id"`
		Payload     map[string]interface{} `json:"payload"`
	}{
		SourceAgent: b.cfg.AgentName,
		TargetAgent: targetAgent,
		MessageType: envelope.TypeAgentExecute,
		SessionID:   sessionID,
		Payload:     payload,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return apierrors.New("agentbase.RequestHandoff", "encode", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.OrchestratorURL+"/internal/route_message", bytes.NewReader(data))
	if err != nil {
		return apierrors.New("agentbase.RequestHandoff", "config", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// A handoff may itself cascade through the whole remaining chain
	// (conversion -> evaluation, say), so this call is given generous
	// headroom rather than inheriting a short per-hop timeout.
	handoffCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout*3)
	defer cancel()
	req = req.WithContext(handoffCtx)

	// The shared client's own Timeout would cap this call at one
	// RequestTimeout, so the handoff uses a copy governed by handoffCtx.
	handoffClient := *b.httpClient
	handoffClient.Timeout = 0

	resp, err := handoffClient.Do(req)
	if err != nil {
		return apierrors.New("agentbase.RequestHandoff", "transport", fmt.Errorf("%w: %v", apierrors.ErrTransport, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return apierrors.New("agentbase.RequestHandoff", "remote_error", fmt.Errorf("orchestrator rejected handoff: status %d: %s", resp.StatusCode, string(respBody)))
	}
	return nil
}

// Handler builds the agent's HTTP surface: the message-intake endpoint
// and a health check, matching §6's "agent surface" contract.
func (b *Base) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp/message", b.handleMessage)
	mux.HandleFunc("GET /health", b.handleHealth)

	var handler http.Handler = mux
	if b.obs != nil {
		handler = b.obs.WrapHandler(fmt.Sprintf("agent.%s.http", b.agentType), handler)
	}
	return handler
}

// Run registers with the orchestrator then serves until ctx is
// cancelled.
func (b *Base) Run(ctx context.Context) error {
	if err := b.Register(ctx); err != nil {
		b.logger.Warn("initial registration failed, continuing to serve", map[string]interface{}{"error": err.Error()})
	}

	addr := fmt.Sprintf(":%d", b.cfg.Port)
	b.httpServer = &http.Server{
		Addr:              addr,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("agent listening", map[string]interface{}{"addr": addr, "agent_name": b.cfg.AgentName})
		if err := b.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return b.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (b *Base) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeEnvelopeJSON(w, http.StatusOK, envelope.HealthResponsePayload{
		Status:    "healthy",
		AgentName: b.cfg.AgentName,
		AgentType: string(b.agentType),
	})
}

// handleMessage implements §4.5's message intake: receive a typed
// envelope, dispatch payload.task against the table, and reply with a
// success/failed response envelope. Unknown tasks fail with
// unknown_task rather than a transport error, so the orchestrator can
// reconcile it through the same dispatch() path as any other agent
// failure.
func (b *Base) handleMessage(w http.ResponseWriter, r *http.Request) {
	var env envelope.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	if env.MessageType != envelope.TypeAgentExecute {
		b.respondFailed(w, env, "unsupported_message_type", fmt.Sprintf("agent only handles %s", envelope.TypeAgentExecute))
		return
	}

	var exec envelope.ExecutePayload
	if err := envelope.DecodeInto(env.Payload, &exec); err != nil {
		b.respondFailed(w, env, "invalid_payload", "execute payload did not decode")
		return
	}

	handler, ok := b.tasks[exec.Task]
	if !ok {
		b.respondFailed(w, env, "unknown_task", fmt.Sprintf("no handler registered for task %q", exec.Task))
		return
	}

	result, err := handler(r.Context(), env.SessionID, exec.Parameters)
	if err != nil {
		b.logger.Error("task handler failed", map[string]interface{}{
			"task":       exec.Task,
			"session_id": env.SessionID,
			"error":      err.Error(),
		})
		b.respondFailed(w, env, "task_failed", err.Error())
		return
	}

	respPayload, encErr := envelope.EncodeFrom(envelope.ResponsePayload{
		Status: envelope.ResponseSuccess,
		Result: result,
	})
	if encErr != nil {
		b.respondFailed(w, env, "encode_error", encErr.Error())
		return
	}

	respEnv := envelope.New(b.cfg.AgentName, env.SourceAgent, env.SessionID, envelope.TypeAgentResponse, respPayload)
	writeEnvelopeJSON(w, http.StatusOK, respEnv)
}

func (b *Base) respondFailed(w http.ResponseWriter, req envelope.Envelope, code, message string) {
	payload, _ := envelope.EncodeFrom(envelope.ResponsePayload{
		Status: envelope.ResponseFailed,
		Error:  &envelope.ErrorDetail{Code: code, Message: message},
	})
	respEnv := envelope.New(b.cfg.AgentName, req.SourceAgent, req.SessionID, envelope.TypeAgentResponse, payload)
	writeEnvelopeJSON(w, http.StatusOK, respEnv)
}

func writeEnvelopeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
