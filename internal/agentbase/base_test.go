package agentbase

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/config"
	"github.com/agentic-nwb/orchestrator/internal/envelope"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

func postEnvelope(t *testing.T, baseURL string, env envelope.Envelope) envelope.Envelope {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/mcp/message", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out envelope.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func decodeJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case *http.Response:
		return json.NewDecoder(v.Body).Decode(dst)
	case *http.Request:
		return json.NewDecoder(v.Body).Decode(dst)
	default:
		return nil
	}
}

func newTestBase(t *testing.T, orchURL string) *Base {
	t.Helper()
	cfg, err := config.LoadAgentConfig("TESTAGENT", config.WithOrchestratorURL(orchURL))
	require.NoError(t, err)
	return New(cfg, session.AgentConversion, []string{"openephys_conversion"}, nil, nil)
}

func TestHandleMessage_DispatchesRegisteredTask(t *testing.T) {
	b := newTestBase(t, "http://unused")
	b.Handle("convert_to_nwb", func(ctx context.Context, sessionID string, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	})

	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	payload, err := envelope.EncodeFrom(envelope.ExecutePayload{Task: "convert_to_nwb"})
	require.NoError(t, err)
	env := envelope.New("orchestrator", "conversion-agent", "sess-1", envelope.TypeAgentExecute, payload)

	resp := postEnvelope(t, srv.URL, env)
	var respPayload envelope.ResponsePayload
	require.NoError(t, envelope.DecodeInto(resp.Payload, &respPayload))
	assert.Equal(t, envelope.ResponseSuccess, respPayload.Status)
	assert.Equal(t, true, respPayload.Result["ok"])
}

func TestHandleMessage_UnknownTaskFailsWithoutTransportError(t *testing.T) {
	b := newTestBase(t, "http://unused")
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	payload, err := envelope.EncodeFrom(envelope.ExecutePayload{Task: "nonexistent"})
	require.NoError(t, err)
	env := envelope.New("orchestrator", "conversion-agent", "sess-1", envelope.TypeAgentExecute, payload)

	resp := postEnvelope(t, srv.URL, env)
	var respPayload envelope.ResponsePayload
	require.NoError(t, envelope.DecodeInto(resp.Payload, &respPayload))
	assert.Equal(t, envelope.ResponseFailed, respPayload.Status)
	assert.Equal(t, "unknown_task", respPayload.Error.Code)
}

func TestHandleMessage_HandlerErrorFailsWithTaskFailed(t *testing.T) {
	b := newTestBase(t, "http://unused")
	b.Handle("convert_to_nwb", func(ctx context.Context, sessionID string, params map[string]interface{}) (map[string]interface{}, error) {
		return nil, assert.AnError
	})
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	payload, err := envelope.EncodeFrom(envelope.ExecutePayload{Task: "convert_to_nwb"})
	require.NoError(t, err)
	env := envelope.New("orchestrator", "conversion-agent", "sess-1", envelope.TypeAgentExecute, payload)

	resp := postEnvelope(t, srv.URL, env)
	var respPayload envelope.ResponsePayload
	require.NoError(t, envelope.DecodeInto(resp.Payload, &respPayload))
	assert.Equal(t, envelope.ResponseFailed, respPayload.Status)
	assert.Equal(t, "task_failed", respPayload.Error.Code)
}

func TestHandleHealth_ReportsAgentIdentity(t *testing.T) {
	b := newTestBase(t, "http://unused")
	srv := httptest.NewServer(b.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health envelope.HealthResponsePayload
	require.NoError(t, decodeJSON(resp, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, string(session.AgentConversion), health.AgentType)
}

func TestRegister_PostsToOrchestrator(t *testing.T) {
	var received envelope.RegisterPayload
	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, decodeJSON(r, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer orch.Close()

	b := newTestBase(t, orch.URL)
	err := b.Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(session.AgentConversion), received.AgentType)
	assert.NotEmpty(t, received.BaseURL)
}

func TestGetContext_NotFoundMapsToUnknownSession(t *testing.T) {
	orch := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such session", http.StatusNotFound)
	}))
	defer orch.Close()

	b := newTestBase(t, orch.URL)
	_, err := b.GetContext(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrUnknownSession)
}
