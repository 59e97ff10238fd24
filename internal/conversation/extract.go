package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentic-nwb/orchestrator/internal/session"
)

const extractionSystemMessage = "You are a neurophysiology data curator. Read the supplied documentation " +
	"and extract NWB session metadata. Respond with a single JSON object only, no prose."

// speciesDefaults maps common free-text species names to their
// canonical binomial, applied only when the LLM's own output is too
// informal to use directly (§4.5.1 step 3: "reasonable defaults...
// where disambiguation is obvious").
var speciesDefaults = map[string]string{
	"mouse": "Mus musculus",
	"mice":  "Mus musculus",
	"rat":   "Rattus norvegicus",
	"rats":  "Rattus norvegicus",
}

// extractionResult is the schema the LLM is asked to fill in.
type extractionResult struct {
	SubjectID         string `json:"subject_id"`
	Species           string `json:"species"`
	Age               string `json:"age"`
	Sex               string `json:"sex"`
	SessionStartTime  string `json:"session_start_time"`
	Experimenter      string `json:"experimenter"`
	DeviceName        string `json:"device_name"`
	Manufacturer      string `json:"manufacturer"`
	RecordingLocation string `json:"recording_location"`
	Description       string `json:"description"`
	Reasoning         string `json:"reasoning"`
}

// llmCaller is the subset of llm.Client this package depends on,
// narrowed to a local interface so tests can substitute a fake without
// standing up an HTTP provider.
type llmCaller interface {
	Call(ctx context.Context, prompt, systemMessage string) (string, error)
}

// concatenateDocs reads every doc file and joins them with a clear
// per-file delimiter (§4.5.1 step 3: "concatenate their contents,
// clearly delimited by filename").
func concatenateDocs(paths []string) (string, error) {
	var b strings.Builder
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "--- %s ---\n", filepath.Base(p))
		b.Write(data)
		b.WriteString("\n\n")
	}
	return b.String(), nil
}

func extractionPrompt(concatenated string) string {
	return fmt.Sprintf(`Extract the following NWB session metadata fields from the documentation below:
subject_id, species, age, sex, session_start_time, experimenter, device_name, manufacturer, recording_location, description.

Respond with JSON of exactly these keys (use an empty string for anything not stated) plus a "reasoning" key
summarizing how you inferred each non-empty value.

Documentation:
%s`, concatenated)
}

// extractMetadata runs §4.5.1 step 3. The second return value is the
// raw model output (empty when there were no docs to extract from).
// The session context has no field for that raw output: initializeSession
// discards it, and Metadata keeps only ExtractionReasoning, which holds
// the model's "reasoning" key, or the whole raw reply when it does not
// parse as JSON.
func extractMetadata(ctx context.Context, caller llmCaller, docPaths []string) (*session.Metadata, string, error) {
	if len(docPaths) == 0 {
		return emptyMetadata(), "", nil
	}

	concatenated, err := concatenateDocs(docPaths)
	if err != nil {
		return nil, "", err
	}

	raw, err := caller.Call(ctx, extractionPrompt(concatenated), extractionSystemMessage)
	if err != nil {
		return nil, "", err
	}

	var parsed extractionResult
	if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
		// Unparseable response: keep the raw text for a human to read,
		// mark every field empty rather than guessing.
		m := emptyMetadata()
		m.ExtractionReasoning = raw
		return m, raw, nil
	}

	m := metadataFromExtraction(parsed)
	return m, raw, nil
}

func emptyMetadata() *session.Metadata {
	empty := session.MetadataField{Confidence: session.ConfidenceEmpty}
	return &session.Metadata{
		SubjectID: empty, Species: empty, Age: empty, Sex: empty,
		SessionStartTime: empty, Experimenter: empty, DeviceName: empty,
		Manufacturer: empty, RecordingLocation: empty, Description: empty,
	}
}

func metadataFromExtraction(r extractionResult) *session.Metadata {
	field := func(v string) session.MetadataField {
		if v == "" {
			return session.MetadataField{Confidence: session.ConfidenceEmpty}
		}
		return session.MetadataField{Value: v, Confidence: session.ConfidenceMedium}
	}

	species := field(r.Species)
	if canonical, ok := speciesDefaults[strings.ToLower(strings.TrimSpace(r.Species))]; ok {
		species = session.MetadataField{Value: canonical, Confidence: session.ConfidenceDefault}
	}

	return &session.Metadata{
		SubjectID:           field(r.SubjectID),
		Species:             species,
		Age:                 field(r.Age),
		Sex:                 field(r.Sex),
		SessionStartTime:    field(r.SessionStartTime),
		Experimenter:        field(r.Experimenter),
		DeviceName:          field(r.DeviceName),
		Manufacturer:        field(r.Manufacturer),
		RecordingLocation:   field(r.RecordingLocation),
		Description:         field(r.Description),
		ExtractionReasoning: r.Reasoning,
	}
}
