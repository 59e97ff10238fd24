package conversation

import (
	"context"
	"fmt"

	"github.com/agentic-nwb/orchestrator/internal/agentbase"
	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/config"
	"github.com/agentic-nwb/orchestrator/internal/llm"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

// capabilities advertised at registration (§4.5.1).
var capabilities = []string{
	"session_initialization",
	"format_detection",
	"metadata_extraction",
	"dataset_validation",
}

// Agent is the Conversation agent (§4.5.1): format detection,
// structure validation, metadata extraction, and handoff to the
// Conversion agent.
type Agent struct {
	base *agentbase.Base
	llm  llmCaller
}

// New builds the Conversation agent and registers its task handlers.
func New(cfg *config.AgentConfig, base *agentbase.Base, llmClient *llm.Client) *Agent {
	a := &Agent{base: base, llm: llmClient}
	base.Handle("initialize_session", a.initializeSession)
	base.Handle("handle_clarification", a.handleClarification)
	return a
}

// Capabilities returns the capability set this agent registers with
// (exported for the process's startup registration call).
func Capabilities() []string { return capabilities }

func (a *Agent) initializeSession(ctx context.Context, sessionID string, params map[string]interface{}) (map[string]interface{}, error) {
	datasetPath, _ := params["dataset_path"].(string)
	if datasetPath == "" {
		return nil, fmt.Errorf("%w: dataset_path is required", apierrors.ErrInvalidPath)
	}

	listing, err := listDataset(datasetPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrInvalidPath, err)
	}

	if detectFormat(listing) != formatOpenEphys {
		return nil, fmt.Errorf("%w: dataset at %s is not a recognizable OpenEphys recording", apierrors.ErrUnsupportedFormat, datasetPath)
	}

	if !listing.hasSettings {
		return nil, fmt.Errorf("%w: missing settings.xml in %s", apierrors.ErrInvalidPath, datasetPath)
	}
	if len(listing.rawFiles) == 0 {
		return nil, fmt.Errorf("%w: no raw recording files found in %s", apierrors.ErrInvalidPath, datasetPath)
	}

	datasetInfo := &session.DatasetInfo{
		Path:      datasetPath,
		Format:    string(formatOpenEphys),
		ByteSize:  listing.totalByteSize,
		FileCount: len(listing.allFiles),
		HasDocs:   len(listing.docFiles) > 0,
		DocPaths:  listing.docFiles,
	}

	metadata, _, err := extractMetadata(ctx, a.llm, listing.docFiles)
	if err != nil {
		return nil, fmt.Errorf("metadata extraction failed: %w", err)
	}

	if err := a.base.PatchContext(ctx, sessionID, agentbase.ContextPatch{
		DatasetInfo: datasetInfo,
		Metadata:    metadata,
	}); err != nil {
		return nil, err
	}

	if err := a.base.RequestHandoff(ctx, sessionID, config.ConversionAgentName, "convert_to_nwb", nil); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"format":     string(formatOpenEphys),
		"file_count": datasetInfo.FileCount,
	}, nil
}

// handleClarification applies user-supplied metadata overrides and
// requests a fresh handoff to the Conversion agent (§4.5.1). It never
// touches dataset_info. Clearing requires_user_clarification and
// clarification_prompt is the orchestrator's own job when it accepts a
// clarify request (those fields are state-machine-owned, §4.4), so
// this handler's contract is limited to the metadata and handoff
// pieces it actually has write access to via the Context RPC.
func (a *Agent) handleClarification(ctx context.Context, sessionID string, params map[string]interface{}) (map[string]interface{}, error) {
	userInput, _ := params["user_input"].(string)
	if userInput == "" {
		return nil, fmt.Errorf("%w: user_input is required", apierrors.ErrInvalidPatch)
	}

	updated, _ := params["updated_metadata"].(map[string]interface{})
	current, err := a.base.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	metadata := current.Metadata
	if metadata == nil {
		metadata = emptyMetadata()
	}
	applyOverrides(metadata, updated)

	if err := a.base.PatchContext(ctx, sessionID, agentbase.ContextPatch{Metadata: metadata}); err != nil {
		return nil, err
	}

	if err := a.base.RequestHandoff(ctx, sessionID, config.ConversionAgentName, "convert_to_nwb", nil); err != nil {
		return nil, err
	}

	return map[string]interface{}{"applied": true}, nil
}

func applyOverrides(m *session.Metadata, updated map[string]interface{}) {
	set := func(f *session.MetadataField, v interface{}) {
		s, ok := v.(string)
		if !ok || s == "" {
			return
		}
		f.Value = s
		f.Confidence = session.ConfidenceHigh
	}
	for k, v := range updated {
		switch k {
		case "subject_id":
			set(&m.SubjectID, v)
		case "species":
			set(&m.Species, v)
		case "age":
			set(&m.Age, v)
		case "sex":
			set(&m.Sex, v)
		case "session_start_time":
			set(&m.SessionStartTime, v)
		case "experimenter":
			set(&m.Experimenter, v)
		case "device_name":
			set(&m.DeviceName, v)
		case "manufacturer":
			set(&m.Manufacturer, v)
		case "recording_location":
			set(&m.RecordingLocation, v)
		case "description":
			set(&m.Description, v)
		}
	}
}
