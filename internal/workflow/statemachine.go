// Package workflow implements the finite-state machine governing
// SessionContext.workflow_stage transitions (§4.4). Only the
// orchestrator calls into this package; agents never mutate
// workflow_stage directly (§3.1 invariant 3, §4.4's ownership rule).
package workflow

import (
	"fmt"
	"time"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/session"
)

// transitions is the relation from the §4.4 diagram: from -> allowed
// next stages.
var transitions = map[session.Stage][]session.Stage{
	session.StageInitialized:        {session.StageCollectingMetadata, session.StageFailed},
	session.StageCollectingMetadata: {session.StageConverting, session.StageFailed},
	session.StageConverting:         {session.StageEvaluating, session.StageFailed},
	session.StageEvaluating:         {session.StageCompleted, session.StageFailed},
	session.StageFailed:             {session.StageCollectingMetadata}, // only via clarify
	session.StageCompleted:          {},
}

// Validate reports whether transitioning from -> to is legal under the
// relation in §4.4. Staying in the same stage is never a transition
// (callers that only patch payload fields don't call this).
func Validate(from, to session.Stage) error {
	allowed, ok := transitions[from]
	if !ok {
		return apierrors.New("workflow.Validate", "invalid_transition", apierrors.ErrInvalidTransition)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return apierrors.New("workflow.Validate", "invalid_transition",
		fmt.Errorf("%w: %s -> %s", apierrors.ErrInvalidTransition, from, to))
}

// AgentForStage returns the agent type that owns execution while the
// session sits in stage, or ok=false for stages with no current_agent
// (invariant 4: current_agent is unset iff stage is initialized,
// completed, or failed).
func AgentForStage(stage session.Stage) (session.AgentType, bool) {
	switch stage {
	case session.StageCollectingMetadata:
		return session.AgentConversation, true
	case session.StageConverting:
		return session.AgentConversion, true
	case session.StageEvaluating:
		return session.AgentEvaluation, true
	default:
		return "", false
	}
}

// ApplyTransition mutates ctxVal's workflow_stage after validating it,
// updates current_agent consistently with invariant 4, and appends a
// started agent_history entry for the incoming agent when applicable.
// The caller still owns calling the Store.Update.
func ApplyTransition(ctxVal *session.Context, to session.Stage, startExecution *session.AgentExecution) error {
	if err := Validate(ctxVal.WorkflowStage, to); err != nil {
		return err
	}
	ctxVal.WorkflowStage = to

	if agent, ok := AgentForStage(to); ok {
		ctxVal.CurrentAgent = &agent
	} else {
		ctxVal.CurrentAgent = nil
	}

	if startExecution != nil {
		ctxVal.AgentHistory = append(ctxVal.AgentHistory, *startExecution)
	}
	return nil
}

// CloseExecution marks the most recent in_progress agent_history entry
// for agentName as finished with status/err, preserving append-only
// semantics (no entry is ever rewritten except its own still-open
// tail slot).
func CloseExecution(ctxVal *session.Context, agentName string, status session.ExecutionStatus, errMsg, trace string) {
	now := time.Now().UTC()
	for i := len(ctxVal.AgentHistory) - 1; i >= 0; i-- {
		e := &ctxVal.AgentHistory[i]
		if e.AgentName == agentName && e.Status == session.ExecutionInProgress {
			e.Status = status
			e.Error = errMsg
			e.Trace = trace
			e.End = &now
			return
		}
	}
}

// Fail transitions ctxVal to failed, sets requires_user_clarification
// and the prompt, matching §4.4's failure semantics and §3.1 invariant
// 8 (clarification coherence).
func Fail(ctxVal *session.Context, prompt string) error {
	if err := Validate(ctxVal.WorkflowStage, session.StageFailed); err != nil {
		return err
	}
	ctxVal.WorkflowStage = session.StageFailed
	ctxVal.CurrentAgent = nil
	ctxVal.RequiresUserClarification = true
	ctxVal.ClarificationPrompt = prompt
	return nil
}

// Clarify clears the clarification flags and re-enters the
// collecting_metadata stage, the only from-failed transition the
// relation allows: clarification re-opens at the conversation agent
// (§4.5.1's handle_clarification), which re-applies the user's
// overrides and hands off to conversion on its own, advancing the
// stage the ordinary route_message way. It is the orchestrator's job
// to first validate that new input was in fact supplied (handled by
// the REST handler, which rejects an empty user_input before calling
// this).
func Clarify(ctxVal *session.Context) error {
	if !ctxVal.RequiresUserClarification {
		return apierrors.New("workflow.Clarify", "invalid_state", apierrors.ErrInvalidState)
	}
	if err := Validate(ctxVal.WorkflowStage, session.StageCollectingMetadata); err != nil {
		return err
	}
	ctxVal.RequiresUserClarification = false
	ctxVal.ClarificationPrompt = ""
	ctxVal.WorkflowStage = session.StageCollectingMetadata
	agent := session.AgentConversation
	ctxVal.CurrentAgent = &agent
	return nil
}
