package orchestratorapi

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentic-nwb/orchestrator/internal/envelope"
	"github.com/agentic-nwb/orchestrator/internal/session"
	"github.com/agentic-nwb/orchestrator/internal/workflow"
)

// stageForAgentType is the inverse of workflow.AgentForStage: which
// stage a handoff to this agent type enters.
func stageForAgentType(t session.AgentType) (session.Stage, bool) {
	switch t {
	case session.AgentConversation:
		return session.StageCollectingMetadata, true
	case session.AgentConversion:
		return session.StageConverting, true
	case session.AgentEvaluation:
		return session.StageEvaluating, true
	default:
		return "", false
	}
}

// dispatch routes task to agentName and, once the call returns,
// reconciles the session's workflow_stage/agent_history against the
// outcome: success closes the history entry (and, for the evaluation
// agent, performs the terminal transition to completed per §4.4);
// failure or a transport/timeout error moves the session to failed
// with the agent's (or the router's) message as the clarification
// prompt. Called both from the REST dispatch goroutine and from the
// internal route_message handoff handler, since both sit at the same
// point in the chain: "an agent_execute call is in flight, react to
// its outcome."
func (s *Server) dispatch(ctx context.Context, sessionID, agentName, task string, params map[string]interface{}) {
	var endSpan func()
	if s.obs != nil {
		spanCtx, span := s.obs.StartSpan(ctx, "router.send",
			attribute.String("agent_name", agentName),
			attribute.String("task", task),
			attribute.String("session_id", sessionID),
		)
		ctx = spanCtx
		endSpan = span.End
	}

	resp, execErr := s.router.Execute(ctx, agentName, task, sessionID, params)
	if endSpan != nil {
		endSpan()
	}

	cur, getErr := s.store.Get(ctx, sessionID)
	if getErr != nil {
		s.logger.Error("dispatch: session vanished mid-flight", map[string]interface{}{"session_id": sessionID, "agent": agentName, "error": getErr.Error()})
		return
	}

	if execErr != nil {
		_ = workflow.Fail(cur, execErr.Error())
		if s.obs != nil {
			s.obs.StageTransitions.Add(ctx, 1)
		}
		workflow.CloseExecution(cur, agentName, session.ExecutionFailed, execErr.Error(), "")
		if err := s.store.Update(ctx, cur); err != nil {
			s.logger.Error("dispatch: failed to persist failure", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		}
		return
	}

	if resp.Status == envelope.ResponseFailed {
		msg := "agent reported failure"
		if resp.Error != nil && resp.Error.Message != "" {
			msg = resp.Error.Message
		}
		_ = workflow.Fail(cur, msg)
		if s.obs != nil {
			s.obs.StageTransitions.Add(ctx, 1)
		}
		workflow.CloseExecution(cur, agentName, session.ExecutionFailed, msg, "")
		if err := s.store.Update(ctx, cur); err != nil {
			s.logger.Error("dispatch: failed to persist agent failure", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		}
		return
	}

	workflow.CloseExecution(cur, agentName, session.ExecutionSuccess, "", "")

	if rec, err := s.reg.Get(agentName); err == nil && rec.AgentType == session.AgentEvaluation {
		if err := workflow.ApplyTransition(cur, session.StageCompleted, nil); err != nil {
			s.logger.Error("dispatch: evaluation success could not close out session", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		} else if s.obs != nil {
			s.obs.StageTransitions.Add(ctx, 1)
		}
	}

	if err := s.store.Update(ctx, cur); err != nil {
		s.logger.Error("dispatch: failed to persist success", map[string]interface{}{"session_id": sessionID, "error": err.Error()})
	}
}
