package obs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-nwb/orchestrator/internal/obs"
)

func TestNew_BuildsCountersAndTracer(t *testing.T) {
	p, err := obs.New("test-service")
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, span := p.StartSpan(context.Background(), "router.send")
	assert.NotNil(t, ctx)
	span.End()

	p.SessionsCreated.Add(context.Background(), 1)
	p.StageTransitions.Add(context.Background(), 1)
	p.LLMRetries.Add(context.Background(), 1)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestWrapHandler_PassesThroughToInnerHandler(t *testing.T) {
	p, err := obs.New("test-service")
	require.NoError(t, err)

	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(p.WrapHandler("test.op", inner))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
