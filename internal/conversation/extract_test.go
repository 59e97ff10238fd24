package conversation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-nwb/orchestrator/internal/session"
)

type fakeLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) Call(ctx context.Context, prompt, systemMessage string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestExtractMetadata_NoDocsReturnsEmptyWithoutCallingLLM(t *testing.T) {
	caller := &fakeLLM{}
	m, raw, err := extractMetadata(context.Background(), caller, nil)
	require.NoError(t, err)
	assert.Empty(t, raw)
	assert.Empty(t, caller.prompts)
	assert.Equal(t, session.ConfidenceEmpty, m.SubjectID.Confidence)
}

func TestExtractMetadata_ParsesWellFormedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readme.txt")
	require.NoError(t, os.WriteFile(path, []byte("subject is a mouse, male, 8 weeks old"), 0o644))

	caller := &fakeLLM{response: `{"subject_id":"M1","species":"mouse","age":"P56D","sex":"M","session_start_time":"","experimenter":"","device_name":"","manufacturer":"","recording_location":"","description":"","reasoning":"inferred from text"}`}

	m, raw, err := extractMetadata(context.Background(), caller, []string{path})
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.Equal(t, "M1", m.SubjectID.Value)
	assert.Equal(t, session.ConfidenceMedium, m.SubjectID.Confidence)
	assert.Equal(t, "Mus musculus", m.Species.Value)
	assert.Equal(t, session.ConfidenceDefault, m.Species.Confidence)
	assert.Equal(t, session.ConfidenceEmpty, m.Experimenter.Confidence)
}

func TestExtractMetadata_UnparsableResponseMarksAllFieldsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readme.txt")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))

	caller := &fakeLLM{response: "this is not valid json"}

	m, raw, err := extractMetadata(context.Background(), caller, []string{path})
	require.NoError(t, err)
	assert.Equal(t, "this is not valid json", raw)
	assert.Equal(t, session.ConfidenceEmpty, m.SubjectID.Confidence)
	assert.Equal(t, raw, m.ExtractionReasoning)
}
