package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentic-nwb/orchestrator/internal/agentbase"
	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

// capabilities advertised at registration (§4.5.3).
var capabilities = []string{
	"nwb_validation",
	"report_generation",
	"validation_summary",
}

type llmCaller interface {
	Call(ctx context.Context, prompt, systemMessage string) (string, error)
}

// Agent is the Evaluation agent (§4.5.3): the terminal stage of the
// pipeline. Its success is what the orchestrator treats as the
// session's completion signal (no further handoff is requested here;
// there is no agent downstream of evaluation).
type Agent struct {
	base      *agentbase.Base
	validator Validator
	summarizer llmCaller
	outputDir string
}

// New builds the Evaluation agent and registers its task handler.
func New(base *agentbase.Base, validator Validator, summarizer llmCaller, outputDir string) *Agent {
	if validator == nil {
		validator = StubValidator{}
	}
	a := &Agent{base: base, validator: validator, summarizer: summarizer, outputDir: outputDir}
	base.Handle("validate_nwb", a.validateNWB)
	return a
}

// Capabilities returns the capability set this agent registers with.
func Capabilities() []string { return capabilities }

func (a *Agent) validateNWB(ctx context.Context, sessionID string, params map[string]interface{}) (map[string]interface{}, error) {
	ctxVal, err := a.base.GetContext(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ctxVal.OutputNWBPath == "" {
		return nil, fmt.Errorf("%w: output_nwb_path must be set before validation", apierrors.ErrInvalidState)
	}
	if _, statErr := os.Stat(ctxVal.OutputNWBPath); statErr != nil {
		return nil, fmt.Errorf("%w: nwb file does not exist at %s", apierrors.ErrInvalidState, ctxVal.OutputNWBPath)
	}

	issues, err := a.validator.Validate(ctx, ctxVal.OutputNWBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrValidationUnreadable, err)
	}

	counts := issueCounts(issues)
	status := overallStatus(counts)
	completeness := metadataCompleteness(ctxVal.Metadata)
	bestPractices := bestPracticesScore(counts)

	reportPath := filepath.Join(a.outputDir, sessionID+"_validation_report.json")
	summary := a.summarize(ctx, status, issues)

	results := &session.ValidationResults{
		OverallStatus:        status,
		IssueCounts:          counts,
		Issues:               issues,
		MetadataCompleteness: completeness,
		BestPracticesScore:   bestPractices,
		ReportPath:           reportPath,
		Summary:              summary,
	}

	if err := persistReport(reportPath, sessionID, results); err != nil {
		return nil, fmt.Errorf("failed to persist validation report: %w", err)
	}

	if err := a.base.PatchContext(ctx, sessionID, agentbase.ContextPatch{
		ValidationResults: results,
		OutputReportPath:  &reportPath,
	}); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"overall_status":  string(status),
		"report_path":     reportPath,
		"completeness":    completeness,
		"best_practices":  bestPractices,
	}, nil
}

const summarySystemMessage = "You summarize NWB validation results for a scientist. Be concise, at most 150 " +
	"words, covering overall status, the most important issues, and actionable recommendations."

func (a *Agent) summarize(ctx context.Context, status session.OverallValidationStatus, issues []session.ValidationIssue) string {
	if a.summarizer == nil {
		return fmt.Sprintf("Validation %s with %d issue(s).", status, len(issues))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "overall_status: %s\n", status)
	for _, iss := range issues {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", iss.Severity, iss.Message, iss.CheckName)
	}

	summary, err := a.summarizer.Call(ctx, b.String(), summarySystemMessage)
	if err != nil || strings.TrimSpace(summary) == "" {
		return fmt.Sprintf("Validation %s with %d issue(s).", status, len(issues))
	}
	return summary
}

type persistedReport struct {
	SessionID string                        `json:"session_id"`
	Results   *session.ValidationResults `json:"results"`
}

func persistReport(path, sessionID string, results *session.ValidationResults) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(persistedReport{SessionID: sessionID, Results: results}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
