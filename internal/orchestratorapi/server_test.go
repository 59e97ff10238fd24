package orchestratorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-nwb/orchestrator/internal/envelope"
	"github.com/agentic-nwb/orchestrator/internal/registry"
	"github.com/agentic-nwb/orchestrator/internal/router"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

// newTestServer builds a Server over a miniredis-backed cache and a
// temp-dir durable store, mirroring session/store_test.go's pattern.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := session.NewRedisCacheFromClient(client, nil)

	durable, err := session.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	store := session.NewStore(cache, durable, time.Hour, nil)
	reg := registry.New()
	msgRouter := router.New(reg, 5*time.Second, 10*time.Second, nil)

	return New(Config{
		Store:     store,
		Registry:  reg,
		Router:    msgRouter,
		Cache:     cache,
		OutputDir: t.TempDir(),
		Version:   "test",
	})
}

// fakeAgent spins up an httptest server answering /mcp/message with a
// fixed agent_response payload, standing in for a real agent process.
func fakeAgent(t *testing.T, respond func(exec envelope.ExecutePayload) envelope.ResponsePayload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req envelope.Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var exec envelope.ExecutePayload
		require.NoError(t, envelope.DecodeInto(req.Payload, &exec))

		respPayload, err := envelope.EncodeFrom(respond(exec))
		require.NoError(t, err)

		respEnv := envelope.New("", req.SourceAgent, req.SessionID, envelope.TypeAgentResponse, respPayload)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(respEnv)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func waitForStage(t *testing.T, s *Server, sessionID string, want session.Stage) *session.Context {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ctxVal, err := s.store.Get(context.Background(), sessionID)
		require.NoError(t, err)
		if ctxVal.WorkflowStage == want {
			return ctxVal
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached stage %s", sessionID, want)
	return nil
}

func TestHandleInitialize_DispatchesConversationAgentAndAdvancesStage(t *testing.T) {
	s := newTestServer(t)

	agent := fakeAgent(t, func(exec envelope.ExecutePayload) envelope.ResponsePayload {
		assert.Equal(t, "initialize_session", exec.Task)
		return envelope.ResponsePayload{Status: envelope.ResponseSuccess, Result: map[string]interface{}{"ok": true}}
	})
	s.reg.Register(registry.Record{AgentName: "conversation-agent", AgentType: session.AgentConversation, BaseURL: agent.URL})

	body, _ := json.Marshal(initializeRequest{DatasetPath: "/data/set1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/initialize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp initializeResponse
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, session.StageCollectingMetadata, resp.WorkflowStage)

	// dispatch() runs in the background; the fake agent reports success
	// immediately but no handoff follows (the agent never asked for
	// one), so the session's history entry closes without a stage
	// change beyond collecting_metadata.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ctxVal, err := s.store.Get(context.Background(), resp.SessionID)
		require.NoError(t, err)
		if len(ctxVal.AgentHistory) > 0 && ctxVal.AgentHistory[0].Status == session.ExecutionSuccess {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("dispatch never closed out the conversation agent's execution")
}

func TestHandleInitialize_MissingDatasetPathIsRejected(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(initializeRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/initialize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleInitialize_NoConversationAgentRegisteredIsRejected(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(initializeRequest{DatasetPath: "/data/set1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/initialize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStatus_ReportsStageAndProgress(t *testing.T) {
	s := newTestServer(t)

	ctxVal := session.New()
	require.NoError(t, s.store.Create(context.Background(), ctxVal))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+ctxVal.SessionID+"/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, session.StageInitialized, resp.WorkflowStage)
	assert.False(t, resp.RequiresClarification)
}

func TestHandleStatus_UnknownSessionIs404(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/does-not-exist/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleClarify_RedispatchesConversationAgentAndClearsFlags(t *testing.T) {
	s := newTestServer(t)

	agent := fakeAgent(t, func(exec envelope.ExecutePayload) envelope.ResponsePayload {
		assert.Equal(t, "handle_clarification", exec.Task)
		assert.Equal(t, "it's a mouse", exec.Parameters["user_input"])
		return envelope.ResponsePayload{Status: envelope.ResponseSuccess}
	})
	s.reg.Register(registry.Record{AgentName: "conversation-agent", AgentType: session.AgentConversation, BaseURL: agent.URL})

	ctxVal := session.New()
	ctxVal.WorkflowStage = session.StageFailed
	ctxVal.RequiresUserClarification = true
	ctxVal.ClarificationPrompt = "species unclear"
	require.NoError(t, s.store.Create(context.Background(), ctxVal))

	body, _ := json.Marshal(clarifyRequest{UserInput: "it's a mouse", UpdatedMetadata: map[string]string{"species": "Mus musculus"}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+ctxVal.SessionID+"/clarify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp clarifyResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, session.StageCollectingMetadata, resp.WorkflowStage)

	updated, err := s.store.Get(context.Background(), ctxVal.SessionID)
	require.NoError(t, err)
	assert.False(t, updated.RequiresUserClarification)

	// handle_clarification runs in the background against the fake
	// conversation agent; wait for its execution entry to close before
	// the fake agent's own assertions are guaranteed to have run.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ctxVal, err := s.store.Get(context.Background(), updated.SessionID)
		require.NoError(t, err)
		last := ctxVal.AgentHistory[len(ctxVal.AgentHistory)-1]
		if last.Status == session.ExecutionSuccess {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("handle_clarification dispatch never closed out the conversation agent's execution")
}

func TestHandleClarify_RejectedWhenSessionNotAwaitingClarification(t *testing.T) {
	s := newTestServer(t)

	ctxVal := session.New()
	require.NoError(t, s.store.Create(context.Background(), ctxVal))

	body, _ := json.Marshal(clarifyRequest{UserInput: "whatever"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+ctxVal.SessionID+"/clarify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleResult_NotCompletedIsRejected(t *testing.T) {
	s := newTestServer(t)

	ctxVal := session.New()
	require.NoError(t, s.store.Create(context.Background(), ctxVal))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+ctxVal.SessionID+"/result", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleResult_ReturnsReportOnceCompleted(t *testing.T) {
	s := newTestServer(t)

	ctxVal := session.New()
	ctxVal.WorkflowStage = session.StageCompleted
	ctxVal.OutputNWBPath = "/out/s.nwb"
	ctxVal.OutputReportPath = "/out/s_report.json"
	ctxVal.ValidationResults = &session.ValidationResults{
		OverallStatus: session.ValidationPassed,
		Summary:       "all good",
	}
	require.NoError(t, s.store.Create(context.Background(), ctxVal))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+ctxVal.SessionID+"/result", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp resultResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, session.ValidationPassed, resp.OverallStatus)
	assert.Equal(t, "/out/s.nwb", resp.NWBFilePath)
}

func TestHandleHealth_ReportsRegisteredAgentsAndRedis(t *testing.T) {
	s := newTestServer(t)
	s.reg.Register(registry.Record{AgentName: "conversation-agent", AgentType: session.AgentConversation, BaseURL: "http://x"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Contains(t, resp.AgentsRegistered, "conversation-agent")
	assert.True(t, resp.RedisConnected)
}

func TestHandleRegisterAgent_AddsRecordToRegistry(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(registerAgentRequest{
		AgentName:    "conversion-agent",
		AgentType:    string(session.AgentConversion),
		Capabilities: []string{"openephys_conversion"},
		BaseURL:      "http://localhost:8082",
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/register_agent", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	got, err := s.reg.Get("conversion-agent")
	require.NoError(t, err)
	assert.Equal(t, session.AgentConversion, got.AgentType)
}

func TestHandleGetContext_RoundTripsSessionContext(t *testing.T) {
	s := newTestServer(t)

	ctxVal := session.New()
	require.NoError(t, s.store.Create(context.Background(), ctxVal))

	req := httptest.NewRequest(http.MethodGet, "/internal/sessions/"+ctxVal.SessionID+"/context", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got session.Context
	decodeBody(t, rec, &got)
	assert.Equal(t, ctxVal.SessionID, got.SessionID)
}

func TestHandlePatchContext_MergesFieldsWithoutTouchingStage(t *testing.T) {
	s := newTestServer(t)

	ctxVal := session.New()
	require.NoError(t, s.store.Create(context.Background(), ctxVal))

	path := "/out/s.nwb"
	body, _ := json.Marshal(patchContextRequest{OutputNWBPath: &path})
	req := httptest.NewRequest(http.MethodPatch, "/internal/sessions/"+ctxVal.SessionID+"/context", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := s.store.Get(context.Background(), ctxVal.SessionID)
	require.NoError(t, err)
	assert.Equal(t, path, updated.OutputNWBPath)
	assert.Equal(t, session.StageInitialized, updated.WorkflowStage)
}

func TestHandleRouteMessage_AdvancesStageAndBlocksForNextAgent(t *testing.T) {
	s := newTestServer(t)

	evalAgent := fakeAgent(t, func(exec envelope.ExecutePayload) envelope.ResponsePayload {
		assert.Equal(t, "validate_nwb", exec.Task)
		return envelope.ResponsePayload{Status: envelope.ResponseSuccess}
	})
	s.reg.Register(registry.Record{AgentName: "conversion-agent", AgentType: session.AgentConversion, BaseURL: "http://unused"})
	s.reg.Register(registry.Record{AgentName: "evaluation-agent", AgentType: session.AgentEvaluation, BaseURL: evalAgent.URL})

	ctxVal := session.New()
	ctxVal.WorkflowStage = session.StageConverting
	agent := session.AgentConversion
	ctxVal.CurrentAgent = &agent
	ctxVal.AgentHistory = []session.AgentExecution{{AgentName: "conversion-agent", Status: session.ExecutionInProgress}}
	require.NoError(t, s.store.Create(context.Background(), ctxVal))

	payload, err := envelope.EncodeFrom(envelope.ExecutePayload{Task: "validate_nwb"})
	require.NoError(t, err)
	body, _ := json.Marshal(routeMessageRequest{
		SourceAgent: "conversion-agent",
		TargetAgent: "evaluation-agent",
		MessageType: envelope.TypeAgentExecute,
		SessionID:   ctxVal.SessionID,
		Payload:     payload,
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/route_message", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	final := waitForStage(t, s, ctxVal.SessionID, session.StageCompleted)
	assert.Nil(t, final.CurrentAgent)
}

func TestHandleRouteMessage_RejectsCallerThatIsNotCurrentAgent(t *testing.T) {
	s := newTestServer(t)
	s.reg.Register(registry.Record{AgentName: "conversion-agent", AgentType: session.AgentConversion, BaseURL: "http://unused"})
	s.reg.Register(registry.Record{AgentName: "evaluation-agent", AgentType: session.AgentEvaluation, BaseURL: "http://unused2"})

	ctxVal := session.New()
	ctxVal.WorkflowStage = session.StageConverting
	agent := session.AgentConversion
	ctxVal.CurrentAgent = &agent
	require.NoError(t, s.store.Create(context.Background(), ctxVal))

	payload, err := envelope.EncodeFrom(envelope.ExecutePayload{Task: "validate_nwb"})
	require.NoError(t, err)
	body, _ := json.Marshal(routeMessageRequest{
		SourceAgent: "evaluation-agent", // not the session's current agent
		TargetAgent: "evaluation-agent",
		MessageType: envelope.TypeAgentExecute,
		SessionID:   ctxVal.SessionID,
		Payload:     payload,
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/route_message", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleListSessions_ReturnsSummariesForEveryCreatedSession(t *testing.T) {
	s := newTestServer(t)

	a := session.New()
	b := session.New()
	require.NoError(t, s.store.Create(context.Background(), a))
	require.NoError(t, s.store.Create(context.Background(), b))

	req := httptest.NewRequest(http.MethodGet, "/internal/sessions", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []sessionSummary `json:"sessions"`
	}
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Sessions, 2)
}
