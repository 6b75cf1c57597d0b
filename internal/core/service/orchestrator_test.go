package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/agents"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/bus"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/logging"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/store"
)

const waitFor = 3 * time.Second

type harness struct {
	bus  *bus.Bus
	reg  *agents.Registry
	orch *Orchestrator
}

// newHarness runs one agent per type, named after the type, plus the orchestrator.
func newHarness(t *testing.T, cfg Config, st store.SnapshotStore, handlers map[domain.AgentType]ports.Handler) *harness {
	t.Helper()
	b, err := bus.New(bus.Config{HistorySize: 500}, logging.Discard())
	require.NoError(t, err)

	reg := agents.NewRegistry(b, agents.Options{}, logging.Discard())
	for typ, h := range handlers {
		_, err := reg.Add(string(typ), typ, h)
		require.NoError(t, err)
	}

	orch := NewOrchestrator("orchestrator", b, reg, st, cfg, logging.Discard())
	_, err = reg.Add(orch.ID(), domain.AgentOrchestrator, orch)
	require.NoError(t, err)

	reg.StartAll(context.Background())
	t.Cleanup(func() {
		orch.Close()
		reg.StopAll()
	})
	return &harness{bus: b, reg: reg, orch: orch}
}

// succeed replies with the step result, echoing the step name.
func succeed(step domain.Step) ports.Handler {
	return ports.HandlerFunc(func(_ context.Context, msg domain.Message) (*domain.Message, error) {
		reply := domain.NewReply(msg, "", step.ResultType(), json.RawMessage(fmt.Sprintf(`{"step":%q}`, step)))
		return &reply, nil
	})
}

func pipeline() map[domain.AgentType]ports.Handler {
	return map[domain.AgentType]ports.Handler{
		domain.AgentCurator:    succeed(domain.StepIngest),
		domain.AgentAnalyzer:   succeed(domain.StepAnalyze),
		domain.AgentSummarizer: succeed(domain.StepSummarize),
		domain.AgentQuery:      succeed(domain.StepIndex),
	}
}

func (h *harness) waitStatus(t *testing.T, id string, want domain.WorkflowStatus) *domain.Workflow {
	t.Helper()
	var wf *domain.Workflow
	require.Eventually(t, func() bool {
		var err error
		wf, err = h.orch.Workflow(context.Background(), id)
		return err == nil && wf.Status == want
	}, waitFor, 5*time.Millisecond, "workflow never reached %s", want)
	return wf
}

// ---- full pipeline ----------------------------------------------------------

func TestOrchestrator_HappyPath(t *testing.T) {
	handlers := pipeline()

	var sawIngest atomic.Bool
	handlers[domain.AgentAnalyzer] = ports.HandlerFunc(func(ctx context.Context, msg domain.Message) (*domain.Message, error) {
		req, err := domain.ParseStepRequest(msg.Payload)
		if err != nil {
			return nil, err
		}
		sawIngest.Store(req.Previous(domain.StepIngest).Get("step").String() == "ingest")
		return succeed(domain.StepAnalyze).Handle(ctx, msg)
	})

	h := newHarness(t, Config{StepTimeout: time.Second}, nil, handlers)

	id, err := h.orch.Trigger(context.Background(), "doc-1", "/tmp/doc-1.txt")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	wf := h.waitStatus(t, id, domain.WorkflowCompleted)
	assert.Equal(t, "doc-1", wf.DocumentID)
	assert.Equal(t, domain.StepDone, wf.CurrentStep)
	require.NotNil(t, wf.CompletedAt)
	assert.Empty(t, wf.Errors)
	for _, step := range []domain.Step{domain.StepIngest, domain.StepAnalyze, domain.StepSummarize, domain.StepIndex} {
		require.Contains(t, wf.Results, step)
		assert.Equal(t, string(step), gjson.GetBytes(wf.Results[step], "step").String())
	}
	assert.True(t, sawIngest.Load(), "analyze request should carry the ingest result")
	assert.Equal(t, 0, h.orch.ActiveCount())

	// every step message carried the workflow id as correlation id
	for _, m := range h.bus.History(0) {
		if m.Type != domain.MsgStatusReport {
			assert.Equal(t, id, m.CorrelationID, "message %s", m.Type)
		}
	}
}

func TestOrchestrator_StatusProgression(t *testing.T) {
	release := make(chan struct{})
	handlers := pipeline()
	handlers[domain.AgentAnalyzer] = ports.HandlerFunc(func(ctx context.Context, msg domain.Message) (*domain.Message, error) {
		<-release
		return succeed(domain.StepAnalyze).Handle(ctx, msg)
	})
	h := newHarness(t, Config{}, nil, handlers)

	id, err := h.orch.Trigger(context.Background(), "doc-1", "loc")
	require.NoError(t, err)

	wf := h.waitStatus(t, id, domain.WorkflowAnalyzing)
	assert.Equal(t, domain.StepAnalyze, wf.CurrentStep)
	assert.Contains(t, wf.Results, domain.StepIngest)
	assert.Equal(t, 1, h.orch.ActiveCount())

	close(release)
	h.waitStatus(t, id, domain.WorkflowCompleted)
}

// ---- retry budget -----------------------------------------------------------

func TestOrchestrator_RetryExhaustionFailsWorkflow(t *testing.T) {
	var calls atomic.Int32
	handlers := pipeline()
	handlers[domain.AgentAnalyzer] = ports.HandlerFunc(func(context.Context, domain.Message) (*domain.Message, error) {
		calls.Add(1)
		return nil, errors.New("model crashed")
	})
	h := newHarness(t, Config{MaxRetries: 3}, nil, handlers)

	id, err := h.orch.Trigger(context.Background(), "doc-7", "loc")
	require.NoError(t, err)

	wf := h.waitStatus(t, id, domain.WorkflowFailed)
	assert.Equal(t, domain.StepAnalyze, wf.CurrentStep)
	require.Len(t, wf.Errors, 3)
	for i, e := range wf.Errors {
		assert.Equal(t, "analyzer", e.Agent)
		assert.Equal(t, domain.StepAnalyze, e.Step)
		assert.Equal(t, "model crashed", e.Description)
		assert.Equal(t, i+1, e.Attempt)
	}
	assert.NotContains(t, wf.Results, domain.StepAnalyze)
	require.NotNil(t, wf.CompletedAt)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load(), "no dispatch after the budget is spent")
}

func TestOrchestrator_RetryWithBackoffRecovers(t *testing.T) {
	var calls atomic.Int32
	handlers := pipeline()
	handlers[domain.AgentSummarizer] = ports.HandlerFunc(func(ctx context.Context, msg domain.Message) (*domain.Message, error) {
		if calls.Add(1) <= 2 {
			return nil, errors.New("rate limited")
		}
		return succeed(domain.StepSummarize).Handle(ctx, msg)
	})
	h := newHarness(t, Config{MaxRetries: 3, RetryBackoff: 10 * time.Millisecond}, nil, handlers)

	id, err := h.orch.Trigger(context.Background(), "doc-2", "loc")
	require.NoError(t, err)

	wf := h.waitStatus(t, id, domain.WorkflowCompleted)
	assert.Len(t, wf.Errors, 2)
	assert.Equal(t, int32(3), calls.Load())

	var retries int
	for _, m := range h.bus.History(0) {
		if m.Type == domain.MsgStepRetry {
			retries++
		}
	}
	assert.Equal(t, 2, retries)
}

func TestOrchestrator_StepTimeoutCountsAsError(t *testing.T) {
	handlers := pipeline()
	handlers[domain.AgentQuery] = ports.HandlerFunc(func(context.Context, domain.Message) (*domain.Message, error) {
		return nil, nil // never answers
	})
	h := newHarness(t, Config{MaxRetries: 2, StepTimeout: 30 * time.Millisecond}, nil, handlers)

	id, err := h.orch.Trigger(context.Background(), "doc-3", "loc")
	require.NoError(t, err)

	wf := h.waitStatus(t, id, domain.WorkflowFailed)
	assert.Equal(t, domain.StepIndex, wf.CurrentStep)
	require.Len(t, wf.Errors, 2)
	assert.Equal(t, "query", wf.Errors[0].Agent)
	assert.Contains(t, wf.Errors[0].Description, "timed out")
	assert.Len(t, wf.Results, 3)
}

// ---- P3: monotonic progress ------------------------------------------------

func TestOrchestrator_DuplicateResultsIgnored(t *testing.T) {
	var analyzeCalls atomic.Int32
	handlers := pipeline()
	var b *bus.Bus
	handlers[domain.AgentCurator] = ports.HandlerFunc(func(ctx context.Context, msg domain.Message) (*domain.Message, error) {
		// a stray copy of the same result ahead of the real reply
		dup := domain.NewReply(msg, "curator", domain.MsgExtractResult, json.RawMessage(`{"step":"dup"}`))
		if err := b.Send(dup); err != nil {
			return nil, err
		}
		return succeed(domain.StepIngest).Handle(ctx, msg)
	})
	handlers[domain.AgentAnalyzer] = ports.HandlerFunc(func(ctx context.Context, msg domain.Message) (*domain.Message, error) {
		analyzeCalls.Add(1)
		return succeed(domain.StepAnalyze).Handle(ctx, msg)
	})
	h := newHarness(t, Config{}, nil, handlers)
	b = h.bus

	id, err := h.orch.Trigger(context.Background(), "doc-4", "loc")
	require.NoError(t, err)

	wf := h.waitStatus(t, id, domain.WorkflowCompleted)
	assert.Equal(t, "dup", gjson.GetBytes(wf.Results[domain.StepIngest], "step").String(), "first result for the step wins")
	assert.Equal(t, int32(1), analyzeCalls.Load())

	// a late result for an earlier step after completion changes nothing
	late := domain.NewMessage(domain.MsgAnalyzeResult, "analyzer", "orchestrator", id, json.RawMessage(`{"step":"late"}`))
	_, err = h.orch.Handle(context.Background(), late)
	require.NoError(t, err)
	after, err := h.orch.Workflow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, wf.Results, after.Results)
	assert.Equal(t, domain.WorkflowCompleted, after.Status)
}

func TestOrchestrator_StaleErrorIgnored(t *testing.T) {
	release := make(chan struct{})
	handlers := pipeline()
	handlers[domain.AgentAnalyzer] = ports.HandlerFunc(func(ctx context.Context, msg domain.Message) (*domain.Message, error) {
		<-release
		return succeed(domain.StepAnalyze).Handle(ctx, msg)
	})
	h := newHarness(t, Config{}, nil, handlers)

	id, err := h.orch.Trigger(context.Background(), "doc-5", "loc")
	require.NoError(t, err)
	h.waitStatus(t, id, domain.WorkflowAnalyzing)

	payload, err := json.Marshal(domain.ErrorPayload{Error: "old", OriginalMessageID: "not-the-outstanding-request", AgentID: "analyzer"})
	require.NoError(t, err)
	_, err = h.orch.Handle(context.Background(), domain.NewMessage(domain.MsgError, "analyzer", "orchestrator", id, payload))
	require.NoError(t, err)

	close(release)
	wf := h.waitStatus(t, id, domain.WorkflowCompleted)
	assert.Empty(t, wf.Errors)
}

func TestOrchestrator_UnknownCorrelationDropped(t *testing.T) {
	h := newHarness(t, Config{}, nil, pipeline())

	reply, err := h.orch.Handle(context.Background(),
		domain.NewMessage(domain.MsgAnalyzeResult, "analyzer", "orchestrator", "ghost", json.RawMessage(`{}`)))
	assert.NoError(t, err)
	assert.Nil(t, reply)

	_, err = h.orch.Workflow(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)
	assert.Empty(t, h.orch.Workflows())
}

// ---- orchestration faults ---------------------------------------------------

type fixedDirectory struct {
	id  string
	err error
}

func (d fixedDirectory) Pick(domain.AgentType, string) (string, error) { return d.id, d.err }

func newBareOrchestrator(t *testing.T, dir ports.AgentDirectory, cfg Config) (*bus.Bus, *Orchestrator) {
	t.Helper()
	b, err := bus.New(bus.Config{}, logging.Discard())
	require.NoError(t, err)
	orch := NewOrchestrator("orchestrator", b, dir, nil, cfg, logging.Discard())
	agent, err := agents.New(orch.ID(), domain.AgentOrchestrator, orch, b, agents.Options{}, logging.Discard())
	require.NoError(t, err)
	agent.Start(context.Background())
	t.Cleanup(func() {
		orch.Close()
		agent.Stop()
	})
	return b, orch
}

func TestOrchestrator_QueueFullCountsAsStepError(t *testing.T) {
	b, orch := newBareOrchestrator(t, fixedDirectory{id: "curator-1"}, Config{MaxRetries: 3})

	full := bus.NewQueue(1)
	require.NoError(t, b.Register("curator-1", full))
	require.NoError(t, b.Send(domain.NewMessage(domain.MsgStatusQuery, "x", "curator-1", "", nil)))

	id, err := orch.Trigger(context.Background(), "doc-6", "loc")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		wf, err := orch.Workflow(context.Background(), id)
		return err == nil && wf.Status == domain.WorkflowFailed
	}, waitFor, 5*time.Millisecond)

	wf, err := orch.Workflow(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, wf.Errors, 3)
	assert.Equal(t, "curator-1", wf.Errors[0].Agent)
	assert.Contains(t, wf.Errors[0].Description, domain.ErrQueueFull.Error())
	assert.Equal(t, domain.StepIngest, wf.CurrentStep)
}

func TestOrchestrator_NoAgentForStep(t *testing.T) {
	_, orch := newBareOrchestrator(t, fixedDirectory{err: domain.ErrNoAgentForType}, Config{MaxRetries: 2})

	id, err := orch.Trigger(context.Background(), "doc-8", "loc")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		wf, err := orch.Workflow(context.Background(), id)
		return err == nil && wf.Status == domain.WorkflowFailed
	}, waitFor, 5*time.Millisecond)

	wf, err := orch.Workflow(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, wf.Errors, 2)
	assert.Equal(t, "orchestrator", wf.Errors[0].Agent)
}

func TestOrchestrator_TriggerValidation(t *testing.T) {
	_, orch := newBareOrchestrator(t, fixedDirectory{id: "x"}, Config{})

	_, err := orch.Trigger(context.Background(), "  ", "loc")
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestOrchestrator_Backoff(t *testing.T) {
	o := NewOrchestrator("o", nil, nil, nil, Config{RetryBackoff: 100 * time.Millisecond, RetryBackoffMax: 250 * time.Millisecond}, logging.Discard())
	assert.Equal(t, 100*time.Millisecond, o.backoff(1))
	assert.Equal(t, 200*time.Millisecond, o.backoff(2))
	assert.Equal(t, 250*time.Millisecond, o.backoff(3))

	o = NewOrchestrator("o", nil, nil, nil, Config{}, logging.Discard())
	assert.Zero(t, o.backoff(1))
}

// ---- listing and persistence ------------------------------------------------

type memStore struct {
	mu        sync.Mutex
	workflows map[string]*domain.Workflow
	agents    map[string]domain.AgentStatus
	saves     int
}

func newMemStore() *memStore {
	return &memStore{workflows: map[string]*domain.Workflow{}, agents: map[string]domain.AgentStatus{}}
}

func (m *memStore) SaveWorkflow(_ context.Context, wf *domain.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows[wf.ID] = wf.Clone()
	m.saves++
	return nil
}

func (m *memStore) LoadWorkflow(_ context.Context, id string) (*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
	}
	return wf.Clone(), nil
}

func (m *memStore) ListWorkflows(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.workflows))
	for id := range m.workflows {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) DeleteWorkflow(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, id)
	return nil
}

func (m *memStore) SaveAgent(_ context.Context, s domain.AgentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[s.ID] = s
	return nil
}

func (m *memStore) LoadAgent(_ context.Context, id string) (*domain.AgentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, id)
	}
	return &s, nil
}

func (m *memStore) Close() error { return nil }

func TestOrchestrator_SnapshotsEveryTransition(t *testing.T) {
	st := newMemStore()
	h := newHarness(t, Config{}, st, pipeline())

	id, err := h.orch.Trigger(context.Background(), "doc-9", "loc")
	require.NoError(t, err)
	h.waitStatus(t, id, domain.WorkflowCompleted)

	require.Eventually(t, func() bool {
		wf, err := st.LoadWorkflow(context.Background(), id)
		return err == nil && wf.Status == domain.WorkflowCompleted
	}, waitFor, 5*time.Millisecond)

	st.mu.Lock()
	saves := st.saves
	st.mu.Unlock()
	// pending, ingesting, analyzing, summarizing, indexing, completed
	assert.Equal(t, 6, saves)

	// a workflow only the store knows about is still reachable
	old := domain.NewWorkflow("from-before-restart", "doc-0", "loc")
	require.NoError(t, st.SaveWorkflow(context.Background(), old))
	got, err := h.orch.Workflow(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, "doc-0", got.DocumentID)
}

func TestOrchestrator_WorkflowsNewestFirst(t *testing.T) {
	h := newHarness(t, Config{}, nil, pipeline())

	first, err := h.orch.Trigger(context.Background(), "doc-a", "loc")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := h.orch.Trigger(context.Background(), "doc-b", "loc")
	require.NoError(t, err)

	list := h.orch.Workflows()
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

// ---- start enqueue ----------------------------------------------------------

// newBlockedHarness builds the pipeline with one-slot queues and fills the
// orchestrator's queue before any agent runs.
func newBlockedHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	b, err := bus.New(bus.Config{HistorySize: 500}, logging.Discard())
	require.NoError(t, err)

	reg := agents.NewRegistry(b, agents.Options{QueueCapacity: 1}, logging.Discard())
	for typ, h := range pipeline() {
		_, err := reg.Add(string(typ), typ, h)
		require.NoError(t, err)
	}
	orch := NewOrchestrator("orchestrator", b, reg, nil, cfg, logging.Discard())
	_, err = reg.Add(orch.ID(), domain.AgentOrchestrator, orch)
	require.NoError(t, err)
	t.Cleanup(func() {
		orch.Close()
		reg.StopAll()
	})

	require.NoError(t, b.Send(domain.NewMessage(domain.MsgStatusReport, "curator", orch.ID(), "", nil)))
	return &harness{bus: b, reg: reg, orch: orch}
}

func TestOrchestrator_StartRetriedWhenOwnQueueFull(t *testing.T) {
	h := newBlockedHarness(t, Config{MaxRetries: 3, RetryBackoff: 20 * time.Millisecond, RetryBackoffMax: 50 * time.Millisecond})

	id, err := h.orch.Trigger(context.Background(), "doc-1", "loc")
	require.NoError(t, err)

	wf, err := h.orch.Workflow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowPending, wf.Status)
	require.Len(t, wf.Errors, 1)
	assert.Equal(t, domain.StepIngest, wf.Errors[0].Step)
	assert.Contains(t, wf.Errors[0].Description, domain.ErrQueueFull.Error())

	h.reg.StartAll(context.Background())

	wf = h.waitStatus(t, id, domain.WorkflowCompleted)
	assert.Len(t, wf.Errors, 1)
	assert.Len(t, h.orch.Workflows(), 1)
}

func TestOrchestrator_StartFailsOnceBudgetSpent(t *testing.T) {
	h := newBlockedHarness(t, Config{MaxRetries: 2, RetryBackoff: 10 * time.Millisecond})

	id, err := h.orch.Trigger(context.Background(), "doc-1", "loc")
	require.NoError(t, err, "the first enqueue failure leaves budget")

	wf := h.waitStatus(t, id, domain.WorkflowFailed)
	require.Len(t, wf.Errors, 2)
	for _, e := range wf.Errors {
		assert.Equal(t, domain.StepIngest, e.Step)
		assert.Equal(t, "orchestrator", e.Agent)
	}
	assert.NotNil(t, wf.CompletedAt)
	assert.Len(t, h.orch.Workflows(), 1)
	assert.Equal(t, 0, h.orch.ActiveCount())
}

func TestOrchestrator_StartRejectedWithSingleAttempt(t *testing.T) {
	h := newBlockedHarness(t, Config{MaxRetries: 1})

	id, err := h.orch.Trigger(context.Background(), "doc-1", "loc")
	require.ErrorIs(t, err, domain.ErrQueueFull)

	wf, err := h.orch.Workflow(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowFailed, wf.Status)
	assert.Len(t, wf.Errors, 1)
}
