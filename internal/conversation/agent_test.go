package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-nwb/orchestrator/internal/agentbase"
	"github.com/agentic-nwb/orchestrator/internal/config"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

func writeJSONTest(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newBaseAgainstOrchestrator(t *testing.T, handler http.HandlerFunc) *agentbase.Base {
	t.Helper()
	orch := httptest.NewServer(handler)
	t.Cleanup(orch.Close)
	cfg, err := config.LoadAgentConfig("CONVERSATION", config.WithOrchestratorURL(orch.URL))
	require.NoError(t, err)
	return agentbase.New(cfg, session.AgentConversation, capabilities, nil, nil)
}

func writeOpenEphysDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, settingsFileName), []byte("<SETTINGS/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "100_CH1.continuous"), []byte("raw"), 0o644))
	return dir
}

func TestInitializeSession_ValidDatasetPatchesAndHandsOff(t *testing.T) {
	dir := writeOpenEphysDataset(t)

	var patched, routed bool
	base := newBaseAgainstOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch:
			patched = true
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/internal/route_message":
			routed = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})

	agent := New(&config.AgentConfig{}, base, nil)
	result, err := agent.initializeSession(context.Background(), "s1", map[string]interface{}{"dataset_path": dir})
	require.NoError(t, err)
	assert.True(t, patched)
	assert.True(t, routed)
	assert.Equal(t, "openephys", result["format"])
	assert.Equal(t, 2, result["file_count"])
}

func TestInitializeSession_MissingDatasetPathFailsFast(t *testing.T) {
	base := newBaseAgainstOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	agent := New(&config.AgentConfig{}, base, nil)
	_, err := agent.initializeSession(context.Background(), "s1", nil)
	require.Error(t, err)
}

func TestInitializeSession_NonOpenEphysDatasetIsRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))

	base := newBaseAgainstOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	agent := New(&config.AgentConfig{}, base, nil)
	_, err := agent.initializeSession(context.Background(), "s1", map[string]interface{}{"dataset_path": dir})
	require.Error(t, err)
}

func TestHandleClarification_AppliesOverridesAndHandsOff(t *testing.T) {
	var patched, routed bool
	base := newBaseAgainstOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			writeJSONTest(w, session.Context{
				SessionID: "s1",
				Metadata:  &session.Metadata{SubjectID: session.MetadataField{Value: "unknown"}},
			})
		case r.Method == http.MethodPatch:
			patched = true
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/internal/route_message":
			routed = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})

	agent := New(&config.AgentConfig{}, base, nil)
	result, err := agent.handleClarification(context.Background(), "s1", map[string]interface{}{
		"user_input":       "it's mouse M42",
		"updated_metadata": map[string]interface{}{"subject_id": "M42"},
	})
	require.NoError(t, err)
	assert.True(t, patched)
	assert.True(t, routed)
	assert.Equal(t, true, result["applied"])
}

func TestHandleClarification_MissingUserInputFailsFast(t *testing.T) {
	base := newBaseAgainstOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	agent := New(&config.AgentConfig{}, base, nil)
	_, err := agent.handleClarification(context.Background(), "s1", nil)
	require.Error(t, err)
}

func TestApplyOverrides_IgnoresEmptyAndNonStringValues(t *testing.T) {
	m := emptyMetadata()
	applyOverrides(m, map[string]interface{}{
		"species": "Mus musculus",
		"age":     "",
		"sex":     42,
	})
	assert.Equal(t, "Mus musculus", m.Species.Value)
	assert.Equal(t, session.ConfidenceHigh, m.Species.Confidence)
	assert.Equal(t, "", m.Age.Value)
	assert.Equal(t, "", m.Sex.Value)
}
