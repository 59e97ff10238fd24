package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-nwb/orchestrator/internal/apierrors"
	"github.com/agentic-nwb/orchestrator/internal/session"
	"github.com/agentic-nwb/orchestrator/internal/workflow"
)

func TestValidate_LegalTransitions(t *testing.T) {
	cases := []struct{ from, to session.Stage }{
		{session.StageInitialized, session.StageCollectingMetadata},
		{session.StageCollectingMetadata, session.StageConverting},
		{session.StageConverting, session.StageEvaluating},
		{session.StageConverting, session.StageFailed},
		{session.StageEvaluating, session.StageCompleted},
		{session.StageEvaluating, session.StageFailed},
		{session.StageFailed, session.StageCollectingMetadata},
	}
	for _, c := range cases {
		assert.NoError(t, workflow.Validate(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestValidate_IllegalTransitions(t *testing.T) {
	cases := []struct{ from, to session.Stage }{
		{session.StageInitialized, session.StageConverting},
		{session.StageCompleted, session.StageConverting},
		{session.StageCollectingMetadata, session.StageCompleted},
		{session.StageFailed, session.StageCompleted},
		{session.StageFailed, session.StageConverting},
	}
	for _, c := range cases {
		err := workflow.Validate(c.from, c.to)
		assert.ErrorIs(t, err, apierrors.ErrInvalidTransition, "%s -> %s should be illegal", c.from, c.to)
	}
}

func TestApplyTransition_SetsCurrentAgentPerInvariant4(t *testing.T) {
	ctx := session.New()
	require.NoError(t, workflow.ApplyTransition(ctx, session.StageCollectingMetadata, nil))
	require.NotNil(t, ctx.CurrentAgent)
	assert.Equal(t, session.AgentConversation, *ctx.CurrentAgent)

	require.NoError(t, workflow.ApplyTransition(ctx, session.StageConverting, nil))
	require.NotNil(t, ctx.CurrentAgent)
	assert.Equal(t, session.AgentConversion, *ctx.CurrentAgent)
}

func TestFail_SetsClarificationCoherently(t *testing.T) {
	ctx := session.New()
	require.NoError(t, workflow.ApplyTransition(ctx, session.StageCollectingMetadata, nil))
	require.NoError(t, workflow.Fail(ctx, "unsupported_format: no settings file found"))

	assert.Equal(t, session.StageFailed, ctx.WorkflowStage)
	assert.True(t, ctx.RequiresUserClarification)
	assert.NotEmpty(t, ctx.ClarificationPrompt)
	assert.Nil(t, ctx.CurrentAgent)
}

func TestClarify_RequiresPriorFailure(t *testing.T) {
	ctx := session.New()
	err := workflow.Clarify(ctx)
	assert.ErrorIs(t, err, apierrors.ErrInvalidState)
}

func TestClarify_ReentersCollectingMetadataAtConversationAgent(t *testing.T) {
	ctx := session.New()
	require.NoError(t, workflow.ApplyTransition(ctx, session.StageCollectingMetadata, nil))
	require.NoError(t, workflow.ApplyTransition(ctx, session.StageConverting, nil))
	require.NoError(t, workflow.Fail(ctx, "conversion_failed: bad header"))

	require.NoError(t, workflow.Clarify(ctx))
	assert.Equal(t, session.StageCollectingMetadata, ctx.WorkflowStage)
	assert.False(t, ctx.RequiresUserClarification)
	assert.Empty(t, ctx.ClarificationPrompt)
	require.NotNil(t, ctx.CurrentAgent)
	assert.Equal(t, session.AgentConversation, *ctx.CurrentAgent)
}

func TestClarify_RetriedOnAlreadyClarifiedSessionRejected(t *testing.T) {
	ctx := session.New()
	require.NoError(t, workflow.ApplyTransition(ctx, session.StageCollectingMetadata, nil))
	require.NoError(t, workflow.ApplyTransition(ctx, session.StageConverting, nil))
	require.NoError(t, workflow.Fail(ctx, "conversion_failed"))
	require.NoError(t, workflow.Clarify(ctx))

	before := *ctx
	err := workflow.Clarify(ctx)
	assert.ErrorIs(t, err, apierrors.ErrInvalidState)
	assert.Equal(t, before.WorkflowStage, ctx.WorkflowStage)
}

func TestCloseExecution_ClosesMostRecentInProgressEntry(t *testing.T) {
	ctx := session.New()
	start := session.AgentExecution{AgentName: "conversation", Status: session.ExecutionInProgress}
	require.NoError(t, workflow.ApplyTransition(ctx, session.StageCollectingMetadata, &start))

	workflow.CloseExecution(ctx, "conversation", session.ExecutionSuccess, "", "")

	require.Len(t, ctx.AgentHistory, 1)
	assert.Equal(t, session.ExecutionSuccess, ctx.AgentHistory[0].Status)
	assert.NotNil(t, ctx.AgentHistory[0].End)
}

func TestProgressPercentage(t *testing.T) {
	cases := map[session.Stage]int{
		session.StageInitialized:        10,
		session.StageCollectingMetadata: 30,
		session.StageConverting:         60,
		session.StageEvaluating:         80,
		session.StageCompleted:          100,
		session.StageFailed:             0,
	}
	for stage, want := range cases {
		ctx := &session.Context{WorkflowStage: stage}
		assert.Equal(t, want, ctx.ProgressPercentage(), "stage=%s", stage)
	}
}
