package orchestratorapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentic-nwb/orchestrator/internal/session"
	"github.com/agentic-nwb/orchestrator/internal/workflow"
)

type initializeRequest struct {
	DatasetPath string `json:"dataset_path"`
}

type initializeResponse struct {
	SessionID     string        `json:"session_id"`
	WorkflowStage session.Stage `json:"workflow_stage"`
	Message       string        `json:"message"`
}

// handleInitialize implements POST /api/v1/sessions/initialize (§6.1).
// It creates the session, advances it to collecting_metadata, and
// kicks off the conversation agent's initialize_session task in the
// background - the call returns as soon as dispatch has begun.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", "malformed request body")
		return
	}
	if req.DatasetPath == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", "dataset_path is required")
		return
	}

	convRec, err := s.reg.GetByType(session.AgentConversation)
	if err != nil {
		writeErr(w, err)
		return
	}

	ctxVal := session.New()
	now := time.Now().UTC()
	if err := workflow.ApplyTransition(ctxVal, session.StageCollectingMetadata, &session.AgentExecution{
		AgentName: convRec.AgentName,
		Start:     now,
		Status:    session.ExecutionInProgress,
	}); err != nil {
		writeErr(w, err)
		return
	}

	if err := s.store.Create(r.Context(), ctxVal); err != nil {
		writeErr(w, err)
		return
	}

	if s.obs != nil {
		s.obs.SessionsCreated.Add(r.Context(), 1)
		s.obs.StageTransitions.Add(r.Context(), 1)
	}

	go s.dispatch(context.Background(), ctxVal.SessionID, convRec.AgentName, "initialize_session", map[string]interface{}{
		"dataset_path": req.DatasetPath,
	})

	writeJSON(w, http.StatusAccepted, initializeResponse{
		SessionID:     ctxVal.SessionID,
		WorkflowStage: ctxVal.WorkflowStage,
		Message:       "conversation agent dispatched",
	})
}

type statusResponse struct {
	SessionID            string              `json:"session_id"`
	WorkflowStage        session.Stage       `json:"workflow_stage"`
	ProgressPercentage   int                 `json:"progress_percentage"`
	StatusMessage        string              `json:"status_message"`
	CurrentAgent         *session.AgentType  `json:"current_agent,omitempty"`
	RequiresClarification bool               `json:"requires_clarification"`
	ClarificationPrompt  string              `json:"clarification_prompt,omitempty"`
}

// handleStatus implements GET /api/v1/sessions/{id}/status (§6.1).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctxVal, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:             ctxVal.SessionID,
		WorkflowStage:         ctxVal.WorkflowStage,
		ProgressPercentage:    ctxVal.ProgressPercentage(),
		StatusMessage:         stageMessage(ctxVal),
		CurrentAgent:          ctxVal.CurrentAgent,
		RequiresClarification: ctxVal.RequiresUserClarification,
		ClarificationPrompt:   ctxVal.ClarificationPrompt,
	})
}

func stageMessage(ctxVal *session.Context) string {
	switch ctxVal.WorkflowStage {
	case session.StageFailed:
		return "awaiting clarification"
	case session.StageCompleted:
		return "conversion complete"
	default:
		return "in progress: " + string(ctxVal.WorkflowStage)
	}
}

type clarifyRequest struct {
	UserInput       string            `json:"user_input"`
	UpdatedMetadata map[string]string `json:"updated_metadata,omitempty"`
}

type clarifyResponse struct {
	Message       string        `json:"message"`
	WorkflowStage session.Stage `json:"workflow_stage"`
}

// handleClarify implements POST /api/v1/sessions/{id}/clarify (§6.1).
// Valid only when requires_clarification=true; re-enters at
// collecting_metadata per §4.4's only failed-exit transition and
// re-dispatches handle_clarification on the conversation agent, which
// applies the overrides itself and hands off to conversion on success
// (§2, §4.5.1) - the orchestrator no longer touches Metadata directly.
func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req clarifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", "malformed request body")
		return
	}
	if req.UserInput == "" {
		writeErrorCode(w, http.StatusBadRequest, "invalid_path", "user_input is required")
		return
	}

	ctxVal, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	if !ctxVal.RequiresUserClarification {
		writeErrorCode(w, http.StatusConflict, "invalid_state", "session is not awaiting clarification")
		return
	}

	conversationRec, err := s.reg.GetByType(session.AgentConversation)
	if err != nil {
		writeErr(w, err)
		return
	}

	if err := workflow.Clarify(ctxVal); err != nil {
		writeErr(w, err)
		return
	}
	if s.obs != nil {
		s.obs.StageTransitions.Add(r.Context(), 1)
	}
	ctxVal.AgentHistory = append(ctxVal.AgentHistory, session.AgentExecution{
		AgentName: conversationRec.AgentName,
		Start:     time.Now().UTC(),
		Status:    session.ExecutionInProgress,
	})

	if err := s.store.Update(r.Context(), ctxVal); err != nil {
		writeErr(w, err)
		return
	}

	go s.dispatch(context.Background(), id, conversationRec.AgentName, "handle_clarification", map[string]interface{}{
		"user_input":       req.UserInput,
		"updated_metadata": req.UpdatedMetadata,
	})

	writeJSON(w, http.StatusOK, clarifyResponse{
		Message:       "clarification accepted, re-dispatched to conversation agent",
		WorkflowStage: ctxVal.WorkflowStage,
	})
}

type resultResponse struct {
	SessionID           string                          `json:"session_id"`
	NWBFilePath          string                          `json:"nwb_file_path"`
	ValidationReportPath string                          `json:"validation_report_path"`
	OverallStatus        session.OverallValidationStatus `json:"overall_status"`
	Summary              string                          `json:"summary"`
	ValidationIssues      []session.ValidationIssue       `json:"validation_issues"`
}

// handleResult implements GET /api/v1/sessions/{id}/result (§6.1).
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctxVal, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}

	if ctxVal.WorkflowStage != session.StageCompleted {
		writeErrorCode(w, http.StatusBadRequest, "not_completed", "session has not completed")
		return
	}

	var overall session.OverallValidationStatus
	var summary string
	var issues []session.ValidationIssue
	if ctxVal.ValidationResults != nil {
		overall = ctxVal.ValidationResults.OverallStatus
		summary = ctxVal.ValidationResults.Summary
		issues = ctxVal.ValidationResults.Issues
	}

	writeJSON(w, http.StatusOK, resultResponse{
		SessionID:            ctxVal.SessionID,
		NWBFilePath:          ctxVal.OutputNWBPath,
		ValidationReportPath: ctxVal.OutputReportPath,
		OverallStatus:        overall,
		Summary:              summary,
		ValidationIssues:     issues,
	})
}

type healthResponse struct {
	Status          string   `json:"status"`
	Version         string   `json:"version"`
	AgentsRegistered []string `json:"agents_registered"`
	RedisConnected  bool     `json:"redis_connected"`
}

// handleHealth implements GET /api/v1/health (§6.1), enriched per §12
// with redis_connected.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0)
	for _, rec := range s.reg.List() {
		names = append(names, rec.AgentName)
	}

	redisConnected := false
	if s.cache != nil {
		redisConnected = s.cache.Ping(r.Context())
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:           "healthy",
		Version:          s.version,
		AgentsRegistered: names,
		RedisConnected:   redisConnected,
	})
}
