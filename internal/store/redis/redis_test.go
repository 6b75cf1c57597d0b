package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
)

func TestRedisStore(t *testing.T) {
	store, err := New(Config{
		Addr:       "localhost:6379",
		DefaultTTL: time.Hour,
	})
	if err != nil {
		t.Skip("redis not available:", err)
	}
	defer store.Close()

	ctx := context.Background()
	id := "wf_test_" + uuid.NewString()
	t.Cleanup(func() { _ = store.DeleteWorkflow(context.Background(), id) })

	t.Run("Save and Load Workflow", func(t *testing.T) {
		wf := domain.NewWorkflow(id, "doc-1", "/tmp/doc-1.txt")
		wf.Status = domain.WorkflowAnalyzing
		wf.CurrentStep = domain.StepAnalyze
		wf.Results[domain.StepIngest] = json.RawMessage(`{"processed_text":"hi"}`)

		require.NoError(t, store.SaveWorkflow(ctx, wf))

		got, err := store.LoadWorkflow(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkflowAnalyzing, got.Status)
		assert.JSONEq(t, `{"processed_text":"hi"}`, string(got.Results[domain.StepIngest]))

		ids, err := store.ListWorkflows(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id)
	})

	t.Run("Status index follows transitions", func(t *testing.T) {
		wf, err := store.LoadWorkflow(ctx, id)
		require.NoError(t, err)
		wf.Status = domain.WorkflowCompleted
		require.NoError(t, store.SaveWorkflow(ctx, wf))

		done, err := store.ListByStatus(ctx, domain.WorkflowCompleted)
		require.NoError(t, err)
		assert.Contains(t, done, id)

		analyzing, err := store.ListByStatus(ctx, domain.WorkflowAnalyzing)
		require.NoError(t, err)
		assert.NotContains(t, analyzing, id)
	})

	t.Run("Agent status", func(t *testing.T) {
		agentID := "analyzer-" + uuid.NewString()
		require.NoError(t, store.SaveAgent(ctx, domain.AgentStatus{ID: agentID, Type: domain.AgentAnalyzer, State: domain.StateError, Errors: 2}))

		got, err := store.LoadAgent(ctx, agentID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateError, got.State)
		assert.Equal(t, int64(2), got.Errors)

		_, err = store.LoadAgent(ctx, "missing-"+agentID)
		assert.ErrorIs(t, err, domain.ErrAgentNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.DeleteWorkflow(ctx, id))
		_, err := store.LoadWorkflow(ctx, id)
		assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
	})
}
