package workflow

import "github.com/agentic-nwb/orchestrator/internal/session"

// Patch is the payload-scoped bag an agent may submit via the internal
// PATCH /internal/sessions/{id}/context endpoint (§4.5's "Context
// RPC"). Only the fields named in §4.4's ownership rule are settable
// this way; workflow_stage, current_agent, agent_history, and the
// clarification fields are exclusively orchestrator-owned and have no
// place in this struct.
type Patch struct {
	DatasetInfo       *session.DatasetInfo
	Metadata          *session.Metadata
	ConversionResults *session.ConversionResults
	ValidationResults *session.ValidationResults
	OutputNWBPath     *string
	OutputReportPath  *string
}

// ApplyPatch merges the non-nil fields of p into ctxVal. It never
// touches workflow_stage, current_agent, agent_history, or the
// clarification fields - those only change via ApplyTransition/
// Fail/Clarify in statemachine.go and the orchestrator's own
// handlers, keeping the orchestrator the sole writer for
// state-machine fields (§4.4).
func ApplyPatch(ctxVal *session.Context, p Patch) {
	if p.DatasetInfo != nil {
		ctxVal.DatasetInfo = p.DatasetInfo
	}
	if p.Metadata != nil {
		ctxVal.Metadata = p.Metadata
	}
	if p.ConversionResults != nil {
		ctxVal.ConversionResults = p.ConversionResults
	}
	if p.ValidationResults != nil {
		ctxVal.ValidationResults = p.ValidationResults
	}
	if p.OutputNWBPath != nil {
		ctxVal.OutputNWBPath = *p.OutputNWBPath
	}
	if p.OutputReportPath != nil {
		ctxVal.OutputReportPath = *p.OutputReportPath
	}
}
