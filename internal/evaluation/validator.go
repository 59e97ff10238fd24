// Package evaluation implements the Evaluation agent (§4.5.3):
// delegates to an opaque NWB validator, classifies the overall
// outcome, scores metadata completeness and best-practices adherence,
// persists a JSON report, and summarizes it via the LLM.
package evaluation

import (
	"context"
	"fmt"
	"os"

	"github.com/agentic-nwb/orchestrator/internal/session"
)

// Validator is the opaque NWB validation library boundary (§4.5.3
// step 2). Its internals are out of scope (Non-goals: "no
// validation... internals"); this package only owns the call contract
// and the surrounding scoring/reporting logic.
type Validator interface {
	Validate(ctx context.Context, nwbPath string) ([]session.ValidationIssue, error)
}

// StubValidator is the default Validator: it confirms the file exists
// and reports no issues, standing in for a real NWB Inspector-style
// validation library the same way conversion.StubConverter stands in
// for a real conversion library.
type StubValidator struct{}

func (StubValidator) Validate(ctx context.Context, nwbPath string) ([]session.ValidationIssue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(nwbPath); err != nil {
		return nil, fmt.Errorf("nwb file not readable: %w", err)
	}
	return nil, nil
}

// issueCounts builds the §4.5.3 step-2 severity histogram.
func issueCounts(issues []session.ValidationIssue) map[session.IssueSeverity]int {
	counts := map[session.IssueSeverity]int{
		session.SeverityCritical: 0,
		session.SeverityWarning:  0,
		session.SeverityInfo:     0,
	}
	for _, iss := range issues {
		counts[iss.Severity]++
	}
	return counts
}

// overallStatus implements §4.5.3 step 3's classification.
func overallStatus(counts map[session.IssueSeverity]int) session.OverallValidationStatus {
	switch {
	case counts[session.SeverityCritical] > 0:
		return session.ValidationFailed
	case counts[session.SeverityWarning] > 0:
		return session.ValidationPassedWithWarnings
	default:
		return session.ValidationPassed
	}
}

// metadataCompleteness implements §4.5.3 step 4's first score: the
// fraction of the ten NWB metadata fields that are present and
// non-empty.
func metadataCompleteness(m *session.Metadata) float64 {
	if m == nil {
		return 0
	}
	fields := m.Fields()
	present := 0
	for _, f := range fields {
		if f.Value != "" {
			present++
		}
	}
	return float64(present) / float64(len(fields))
}

// bestPracticesScore implements §4.5.3 step 4's second score:
// max(0, 1 - (0.10*#critical + 0.05*#warning + 0.01*#info)).
func bestPracticesScore(counts map[session.IssueSeverity]int) float64 {
	penalty := 0.10*float64(counts[session.SeverityCritical]) +
		0.05*float64(counts[session.SeverityWarning]) +
		0.01*float64(counts[session.SeverityInfo])
	score := 1 - penalty
	if score < 0 {
		return 0
	}
	return score
}
