package evaluation

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

type fixedValidator struct {
	issues []session.ValidationIssue
	err    error
}

func (f fixedValidator) Validate(ctx context.Context, nwbPath string) ([]session.ValidationIssue, error) {
	return f.issues, f.err
}

func writeJSONTest(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newBase(t *testing.T, handler http.HandlerFunc) *agentbase.Base {
	t.Helper()
	orch := httptest.NewServer(handler)
	t.Cleanup(orch.Close)
	cfg, err := config.LoadAgentConfig("EVALUATION", config.WithOrchestratorURL(orch.URL))
	require.NoError(t, err)
	return agentbase.New(cfg, session.AgentEvaluation, capabilities, nil, nil)
}

func TestValidateNWB_NoIssuesPasses(t *testing.T) {
	dir := t.TempDir()
	nwbPath := filepath.Join(dir, "s1.nwb")
	require.NoError(t, os.WriteFile(nwbPath, []byte("placeholder"), 0o644))

	var patched bool
	base := newBase(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSONTest(w, session.Context{
				SessionID:     "s1",
				OutputNWBPath: nwbPath,
				Metadata: &session.Metadata{
					SubjectID: session.MetadataField{Value: "M1"},
					Species:   session.MetadataField{Value: "Mus musculus"},
				},
			})
			return
		}
		patched = true
		w.WriteHeader(http.StatusOK)
	})

	agent := New(base, fixedValidator{}, nil, dir)
	result, err := agent.validateNWB(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.True(t, patched)
	assert.Equal(t, string(session.ValidationPassed), result["overall_status"])

	reportPath := filepath.Join(dir, "s1_validation_report.json")
	_, statErr := os.Stat(reportPath)
	assert.NoError(t, statErr)
}

func TestValidateNWB_CriticalIssueFails(t *testing.T) {
	dir := t.TempDir()
	nwbPath := filepath.Join(dir, "s2.nwb")
	require.NoError(t, os.WriteFile(nwbPath, []byte("placeholder"), 0o644))

	base := newBase(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSONTest(w, session.Context{SessionID: "s2", OutputNWBPath: nwbPath})
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	agent := New(base, fixedValidator{issues: []session.ValidationIssue{
		{Severity: session.SeverityCritical, Message: "missing device metadata"},
	}}, nil, dir)

	result, err := agent.validateNWB(context.Background(), "s2", nil)
	require.NoError(t, err)
	assert.Equal(t, string(session.ValidationFailed), result["overall_status"])
}

func TestValidateNWB_MissingOutputPathFailsFast(t *testing.T) {
	dir := t.TempDir()
	base := newBase(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSONTest(w, session.Context{SessionID: "s3"})
	})

	agent := New(base, fixedValidator{}, nil, dir)
	_, err := agent.validateNWB(context.Background(), "s3", nil)
	require.Error(t, err)
}

func TestBestPracticesScore_PenalizesBySeverity(t *testing.T) {
	counts := map[session.IssueSeverity]int{
		session.SeverityCritical: 1,
		session.SeverityWarning:  2,
		session.SeverityInfo:     1,
	}
	assert.InDelta(t, 0.79, bestPracticesScore(counts), 0.001)
}

func TestMetadataCompleteness_CountsNonEmptyFields(t *testing.T) {
	m := &session.Metadata{
		SubjectID: session.MetadataField{Value: "M1"},
		Species:   session.MetadataField{Value: "Mus musculus"},
	}
	assert.InDelta(t, 0.2, metadataCompleteness(m), 0.001)
}
