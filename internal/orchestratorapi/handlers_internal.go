package orchestratorapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentic-nwb/orchestrator/internal/envelope"
	"github.com/agentic-nwb/orchestrator/internal/registry"
	"github.com/agentic-nwb/orchestrator/internal/session"
	"github.com/agentic-nwb/orchestrator/internal/workflow"
)

type registerAgentRequest struct {
	AgentName    string   `json:"agent_name"`
	AgentType    string   `json:"agent_type"`
	Capabilities []string `json:"capabilities"`
	BaseURL      string   `json:"base_url"`
}

// handleRegisterAgent implements POST /internal/register_agent (§6.2).
// Registration has no persistence (§4.2) - an agent registers once
// when its own process starts, so after an orchestrator restart the
// registry stays empty until the agents are restarted too.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", "malformed request body")
		return
	}
	if req.AgentName == "" || req.BaseURL == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", "agent_name and base_url are required")
		return
	}

	s.reg.Register(registry.Record{
		AgentName:    req.AgentName,
		AgentType:    session.AgentType(req.AgentType),
		BaseURL:      req.BaseURL,
		Capabilities: req.Capabilities,
		Status:       registry.StatusHealthy,
	})

	s.logger.Info("agent registered", map[string]interface{}{
		"agent_name": req.AgentName,
		"agent_type": req.AgentType,
		"base_url":   req.BaseURL,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// handleGetContext implements GET /internal/sessions/{id}/context
// (§4.5's Context RPC) - the read side agents use to pull the full
// session record before acting on a task.
func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctxVal, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ctxVal)
}

type patchContextRequest struct {
	DatasetInfo       *session.DatasetInfo       `json:"dataset_info,omitempty"`
	Metadata          *session.Metadata          `json:"metadata,omitempty"`
	ConversionResults *session.ConversionResults `json:"conversion_results,omitempty"`
	ValidationResults *session.ValidationResults `json:"validation_results,omitempty"`
	OutputNWBPath     *string                    `json:"output_nwb_path,omitempty"`
	OutputReportPath  *string                    `json:"output_report_path,omitempty"`
}

// handlePatchContext implements PATCH /internal/sessions/{id}/context
// (§4.5's Context RPC write side) - the only way an agent may mutate
// session state; workflow_stage and agent_history stay exclusively
// orchestrator-owned (§4.4).
func (s *Server) handlePatchContext(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req patchContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_patch", "malformed patch body")
		return
	}

	ctxVal, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	workflow.ApplyPatch(ctxVal, workflow.Patch{
		DatasetInfo:       req.DatasetInfo,
		Metadata:          req.Metadata,
		ConversionResults: req.ConversionResults,
		ValidationResults: req.ValidationResults,
		OutputNWBPath:     req.OutputNWBPath,
		OutputReportPath:  req.OutputReportPath,
	})

	if err := s.store.Update(r.Context(), ctxVal); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "patched"})
}

type routeMessageRequest struct {
	SourceAgent string                 `json:"source_agent"`
	TargetAgent string                 `json:"target_agent"`
	MessageType envelope.Type          `json:"message_type"`
	SessionID   string                 `json:"session_id"`
	Payload     map[string]interface{} `json:"payload"`
}

// handleRouteMessage implements POST /internal/route_message (§6.2) -
// the handoff primitive an agent calls once it has finished its task
// and patched the context, asking the orchestrator to advance the
// workflow and dispatch the next agent. source_agent is an addition
// beyond the envelope's own fields: the orchestrator needs it to
// confirm the caller is in fact the agent it believes owns the
// session right now, so a stray or duplicate call from a superseded
// agent can't move the stage out from under a live handoff.
func (s *Server) handleRouteMessage(w http.ResponseWriter, r *http.Request) {
	var req routeMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", "malformed request body")
		return
	}
	if req.SourceAgent == "" || req.TargetAgent == "" || req.SessionID == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", "source_agent, target_agent and session_id are required")
		return
	}

	ctxVal, err := s.store.Get(r.Context(), req.SessionID)
	if err != nil {
		writeErr(w, err)
		return
	}

	if ctxVal.CurrentAgent == nil || *ctxVal.CurrentAgent == "" {
		writeErrorCode(w, http.StatusConflict, "invalid_state", "session has no agent currently in progress")
		return
	}

	sourceRec, err := s.reg.Get(req.SourceAgent)
	if err != nil {
		writeErr(w, err)
		return
	}
	if sourceRec.AgentType != *ctxVal.CurrentAgent {
		writeErrorCode(w, http.StatusConflict, "invalid_state", "caller is not the session's current agent")
		return
	}

	targetRec, err := s.reg.Get(req.TargetAgent)
	if err != nil {
		writeErr(w, err)
		return
	}

	newStage, ok := stageForAgentType(targetRec.AgentType)
	if !ok {
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", "target agent has no corresponding workflow stage")
		return
	}

	workflow.CloseExecution(ctxVal, req.SourceAgent, session.ExecutionSuccess, "", "")

	if err := workflow.ApplyTransition(ctxVal, newStage, &session.AgentExecution{
		AgentName: targetRec.AgentName,
		Start:     time.Now().UTC(),
		Status:    session.ExecutionInProgress,
	}); err != nil {
		writeErr(w, err)
		return
	}
	if s.obs != nil {
		s.obs.StageTransitions.Add(r.Context(), 1)
	}

	if err := s.store.Update(r.Context(), ctxVal); err != nil {
		writeErr(w, err)
		return
	}

	var exec envelope.ExecutePayload
	if err := envelope.DecodeInto(req.Payload, &exec); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", "payload did not decode as an execute payload")
		return
	}

	// Blocking: the caller (the agent that just handed off) is kept
	// waiting until the next agent's task completes, matching the
	// synchronous, single-writer chain in §5.
	s.dispatch(r.Context(), req.SessionID, targetRec.AgentName, exec.Task, exec.Parameters)

	writeJSON(w, http.StatusOK, map[string]string{"status": "routed"})
}

type sessionSummary struct {
	SessionID     string        `json:"session_id"`
	WorkflowStage session.Stage `json:"workflow_stage"`
	CreatedAt     time.Time     `json:"created_at"`
	LastUpdated   time.Time     `json:"last_updated"`
}

// handleListSessions implements GET /internal/sessions, a supplemental
// operability endpoint (§12) with no client-facing equivalent. The
// durable tier only indexes by id, so each summary is filled in with a
// best-effort Get; a session that vanishes between List and Get (rare,
// racing with a Delete) is silently dropped from the page rather than
// failing the whole listing.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]sessionSummary, 0, len(ids))
	for _, id := range ids {
		c, err := s.store.Get(r.Context(), id)
		if err != nil {
			continue
		}
		out = append(out, sessionSummary{
			SessionID:     c.SessionID,
			WorkflowStage: c.WorkflowStage,
			CreatedAt:     c.CreatedAt,
			LastUpdated:   c.LastUpdated,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out})
}
