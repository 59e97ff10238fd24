package conversion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/agentic-nwb/orchestrator/internal/agentbase"
	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/config"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

// capabilities advertised at registration (§4.5.2).
var capabilities = []string{
	"openephys_conversion",
	"nwb_generation",
	"error_formatting",
}

// llmCaller narrows llm.Client to the one method this package needs,
// matching the pattern in internal/conversation.
type llmCaller interface {
	Call(ctx context.Context, prompt, systemMessage string) (string, error)
}

// Agent is the Conversion agent (§4.5.2).
type Agent struct {
	base            *agentbase.Base
	converter       Converter
	errorExplainer  llmCaller
	outputDir       string
}

// New builds the Conversion agent and registers its task handler.
// errorExplainer is a distinct, low-temperature llm caller (§4.5.2
// step 5: "temperature low"), separate from any completion client the
// agent might otherwise use, since §4.5's call_llm generation
// parameters are fixed for the process's lifetime per provider
// instance.
func New(base *agentbase.Base, converter Converter, errorExplainer llmCaller, outputDir string) *Agent {
	if converter == nil {
		converter = StubConverter{}
	}
	a := &Agent{base: base, converter: converter, errorExplainer: errorExplainer, outputDir: outputDir}
	base.Handle("convert_to_nwb", a.convertToNWB)
	return a
}

// Capabilities returns the capability set this agent registers with.
func Capabilities() []string { return capabilities }

func (a *Agent) convertToNWB(ctx context.Context, sessionID string, params map[string]interface{}) (map[string]interface{}, error) {
	ctxVal, err := a.base.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ctxVal.DatasetInfo == nil || ctxVal.Metadata == nil {
		return nil, fmt.Errorf("%w: dataset_info and metadata must be populated before conversion", apierrors.ErrInvalidState)
	}

	input := buildInput(a.outputDir, sessionID, ctxVal)

	start := time.Now()
	output, convErr := a.converter.Convert(ctx, input)
	duration := time.Since(start).Seconds()

	if convErr != nil {
		return nil, a.reportFailure(ctx, sessionID, convErr, duration)
	}

	outputPath := input.OutputPath
	if err := a.base.PatchContext(ctx, sessionID, agentbase.ContextPatch{
		ConversionResults: &session.ConversionResults{
			DurationSeconds: duration,
			Warnings:        output.Warnings,
			OverallStatus:   "success",
		},
		OutputNWBPath: &outputPath,
	}); err != nil {
		return nil, err
	}

	if err := a.base.RequestHandoff(ctx, sessionID, config.EvaluationAgentName, "validate_nwb", nil); err != nil {
		return nil, err
	}

	return map[string]interface{}{"output_nwb_path": outputPath}, nil
}

func buildInput(outputDir, sessionID string, ctxVal *session.Context) NWBInput {
	m := ctxVal.Metadata

	sessionStart := m.SessionStartTime.Value
	if sessionStart == "" {
		sessionStart = time.Now().UTC().Format(time.RFC3339)
	}

	return NWBInput{
		DatasetPath: ctxVal.DatasetInfo.Path,
		OutputPath:  filepath.Join(outputDir, sessionID+".nwb"),
		Subject: SubjectBlock{
			SubjectID:   m.SubjectID.Value,
			Species:     m.Species.Value,
			Age:         m.Age.Value,
			Sex:         m.Sex.Value,
			Description: m.Description.Value,
		},
		FileLevel: FileLevelBlock{
			SessionStartTime: sessionStart,
			Experimenter:     m.Experimenter.Value,
			Description:      m.Description.Value,
		},
		Device: DeviceBlock{
			Name:         m.DeviceName.Value,
			Manufacturer: m.Manufacturer.Value,
			Location:     m.RecordingLocation.Value,
		},
		LosslessCompression: true,
	}
}

const errorExplanationSystemMessage = "You write short, actionable remediation messages for a scientist whose " +
	"neurophysiology data conversion just failed. Respond in plain prose, at most 200 words, no markdown."

// reportFailure implements §4.5.2 step 5: capture details, ask the LLM
// for a user-friendly remediation message, patch conversion_results
// with a failed status, then return an error whose text IS that
// message - the message agentbase.handleMessage reports back to the
// orchestrator as the clarification prompt. conversion_log carries the
// raw error plus the goroutine's stack at the point of failure
// (§7: "message + trace, never truncated") since a bare error string
// alone would otherwise be the only forensic trail left behind.
func (a *Agent) reportFailure(ctx context.Context, sessionID string, convErr error, duration float64) error {
	userMessage := a.explain(ctx, convErr)
	log := convErr.Error() + "\n" + string(debug.Stack())

	_ = a.base.PatchContext(ctx, sessionID, agentbase.ContextPatch{
		ConversionResults: &session.ConversionResults{
			DurationSeconds: duration,
			Errors:          []string{convErr.Error()},
			ConversionLog:   log,
			OverallStatus:   "failed",
			UserMessage:     userMessage,
		},
	})

	return errors.New(userMessage)
}

func (a *Agent) explain(ctx context.Context, convErr error) string {
	if a.errorExplainer == nil {
		return fmt.Sprintf("Conversion failed: %v", convErr)
	}
	prompt := fmt.Sprintf("The NWB conversion failed with this error:\n%s\n\nExplain what likely went wrong and what the user should check or fix.", convErr.Error())
	msg, err := a.errorExplainer.Call(ctx, prompt, errorExplanationSystemMessage)
	if err != nil || strings.TrimSpace(msg) == "" {
		return fmt.Sprintf("Conversion failed: %v", convErr)
	}
	return msg
}
