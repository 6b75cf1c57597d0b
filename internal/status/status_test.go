package status

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/bus"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/logging"
)

type fakeAgents []domain.AgentStatus

func (f fakeAgents) Statuses() []domain.AgentStatus { return f }

type fakeWorkflows map[string]*domain.Workflow

func (f fakeWorkflows) Workflow(_ context.Context, id string) (*domain.Workflow, error) {
	wf, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
	}
	return wf.Clone(), nil
}

func (f fakeWorkflows) Workflows() []*domain.Workflow {
	out := make([]*domain.Workflow, 0, len(f))
	for _, wf := range f {
		out = append(out, wf.Clone())
	}
	return out
}

func (f fakeWorkflows) ActiveCount() int {
	n := 0
	for _, wf := range f {
		if !wf.Status.Terminal() {
			n++
		}
	}
	return n
}

type recordingStore struct {
	mu     sync.Mutex
	saved  map[string]domain.AgentStatus
	failOn string
}

func (r *recordingStore) SaveWorkflow(context.Context, *domain.Workflow) error { return nil }
func (r *recordingStore) LoadWorkflow(context.Context, string) (*domain.Workflow, error) {
	return nil, domain.ErrWorkflowNotFound
}
func (r *recordingStore) ListWorkflows(context.Context) ([]string, error) { return nil, nil }
func (r *recordingStore) DeleteWorkflow(context.Context, string) error { return nil }
func (r *recordingStore) LoadAgent(context.Context, string) (*domain.AgentStatus, error) {
	return nil, domain.ErrAgentNotFound
}
func (r *recordingStore) Close() error { return nil }

func (r *recordingStore) SaveAgent(_ context.Context, s domain.AgentStatus) error {
	if s.ID == r.failOn {
		return errors.New("disk full")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[s.ID] = s
	return nil
}

func fixture(t *testing.T) (*bus.Bus, fakeAgents, fakeWorkflows) {
	t.Helper()
	b, err := bus.New(bus.Config{HistorySize: 10}, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, b.Register("curator-1", bus.NewQueue(10)))
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Send(domain.NewMessage(domain.MsgIngestRequest, "orchestrator", "curator-1", "wf-1", nil)))
	}

	agents := fakeAgents{
		{ID: "analyzer-1", Type: domain.AgentAnalyzer, State: domain.StateIdle, Processed: 6, Errors: 2, AvgLatency: 100 * time.Millisecond},
		{ID: "curator-1", Type: domain.AgentCurator, State: domain.StateError, Processed: 2, Errors: 0, AvgLatency: 500 * time.Millisecond},
	}

	done := domain.NewWorkflow("wf-1", "d1", "loc")
	done.Status = domain.WorkflowCompleted
	running := domain.NewWorkflow("wf-2", "d2", "loc")
	running.Status = domain.WorkflowAnalyzing
	return b, agents, fakeWorkflows{"wf-1": done, "wf-2": running}
}

func TestSystemStatus(t *testing.T) {
	b, agents, workflows := fixture(t)
	s := New(agents, workflows, b, nil)

	got := s.SystemStatus()
	assert.Len(t, got.Agents, 2)
	assert.Equal(t, 1, got.ActiveWorkflows)
	assert.Equal(t, 2, got.TotalWorkflows)
	assert.Equal(t, 3, got.HistorySize)
	assert.Equal(t, int64(8), got.TotalProcessed)
	assert.Equal(t, int64(2), got.TotalErrors)
	assert.Equal(t, 0.2, got.ErrorRate)
	// (8*100ms + 2*500ms) / 10
	assert.Equal(t, 180*time.Millisecond, got.AvgLatency)
}

func TestSystemStatus_NoTraffic(t *testing.T) {
	b, err := bus.New(bus.Config{}, logging.Discard())
	require.NoError(t, err)
	s := New(fakeAgents{{ID: "a"}}, fakeWorkflows{}, b, nil)

	got := s.SystemStatus()
	assert.Zero(t, got.ErrorRate)
	assert.Zero(t, got.AvgLatency)
	assert.Zero(t, got.HistorySize)
}

func TestWorkflowStatus(t *testing.T) {
	b, agents, workflows := fixture(t)
	s := New(agents, workflows, b, nil)

	wf, err := s.WorkflowStatus(context.Background(), "wf-2")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowAnalyzing, wf.Status)

	_, err = s.WorkflowStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
}

func TestMessages(t *testing.T) {
	b, agents, workflows := fixture(t)
	s := New(agents, workflows, b, nil)

	assert.Len(t, s.Messages(0), 3)
	assert.Len(t, s.Messages(2), 2)
}

func TestPersist(t *testing.T) {
	b, agents, workflows := fixture(t)

	st := &recordingStore{saved: map[string]domain.AgentStatus{}}
	require.NoError(t, New(agents, workflows, b, st).Persist(context.Background()))
	assert.Len(t, st.saved, 2)
	assert.Equal(t, int64(6), st.saved["analyzer-1"].Processed)

	st = &recordingStore{saved: map[string]domain.AgentStatus{}, failOn: "curator-1"}
	err := New(agents, workflows, b, st).Persist(context.Background())
	assert.ErrorContains(t, err, "save agent curator-1")
	assert.Len(t, st.saved, 1)

	assert.NoError(t, New(agents, workflows, b, nil).Persist(context.Background()))
}
