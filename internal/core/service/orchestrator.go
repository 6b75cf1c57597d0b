package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/store"
)

const (
	DefaultMaxRetries      = 3
	DefaultStepTimeout     = 30 * time.Second
	DefaultRetryBackoff    = 500 * time.Millisecond
	DefaultRetryBackoffMax = 10 * time.Second

	// redelivery delay for a timer message that hit a full orchestrator queue
	timerRedelivery = 100 * time.Millisecond
)

type Config struct {
	MaxRetries      int
	StepTimeout     time.Duration
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoffMax <= 0 {
		c.RetryBackoffMax = DefaultRetryBackoffMax
	}
	return c
}

// flight tracks the outstanding request of one workflow.
type flight struct {
	wf        *domain.Workflow
	requestID string
	agentID   string
	timer     *time.Timer
	retry     *time.Timer
}

func (f *flight) stopTimers() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if f.retry != nil {
		f.retry.Stop()
		f.retry = nil
	}
}

// Orchestrator owns every Workflow and drives it through ingest, analyze,
// summarize and index by exchanging messages with worker agents. It runs as the
// handler of an ordinary agent, so all workflow-correlated messages are applied
// one at a time from its queue.
type Orchestrator struct {
	id     string
	bus    ports.MessageBus
	agents ports.AgentDirectory
	store  store.SnapshotStore
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*flight
	closed    bool
}

var _ ports.Handler = (*Orchestrator)(nil)

// NewOrchestrator wires the state machine. st may be nil, in which case workflow
// state lives only in memory.
func NewOrchestrator(id string, b ports.MessageBus, agents ports.AgentDirectory, st store.SnapshotStore, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		id:        id,
		bus:       b,
		agents:    agents,
		store:     st,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "orchestrator"),
		workflows: make(map[string]*flight),
	}
}

func (o *Orchestrator) ID() string { return o.id }

// Trigger creates a pending workflow for the document and queues its start.
// The workflow id is returned right away; processing continues asynchronously.
func (o *Orchestrator) Trigger(ctx context.Context, documentID, location string) (string, error) {
	if strings.TrimSpace(documentID) == "" {
		return "", fmt.Errorf("%w: document id is required", domain.ErrInvalidPayload)
	}

	wf := domain.NewWorkflow(uuid.NewString(), documentID, location)
	payload, err := domain.BuildStepRequest(wf)
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	st := &flight{wf: wf}
	o.workflows[wf.ID] = st
	err = o.queueStart(st, payload)
	snap := wf.Clone()
	o.mu.Unlock()
	o.persist(ctx, snap)

	if snap.Status == domain.WorkflowFailed {
		return wf.ID, fmt.Errorf("start workflow %s: %w", wf.ID, err)
	}
	o.logger.Info("workflow created", "workflow_id", wf.ID, "document_id", documentID)
	return wf.ID, nil
}

// queueStart enqueues the workflow's start on the orchestrator's own queue. A
// failed enqueue is an ingest step error: it is retried after the usual backoff
// until the budget is spent. Caller holds o.mu.
func (o *Orchestrator) queueStart(st *flight, payload domain.Data) error {
	wf := st.wf
	wf.Attempt++
	err := o.bus.Send(domain.NewMessage(domain.MsgIngestRequest, o.id, o.id, wf.ID, payload))
	if err == nil {
		wf.Attempt = 0
		return nil
	}

	err = fmt.Errorf("queue workflow start: %w", err)
	o.record(st, o.id, err)
	n := wf.StepErrors(wf.CurrentStep)
	if n >= o.cfg.MaxRetries {
		o.fail(st)
		o.logger.Warn("workflow failed", "workflow_id", wf.ID, "step", string(wf.CurrentStep), "errors", n, "error", err)
		return err
	}

	// an inline retry would hit the same full queue
	delay := max(o.backoff(n), timerRedelivery)
	o.logger.Info("retrying workflow start", "workflow_id", wf.ID, "attempt", wf.Attempt, "error", err)
	st.retry = time.AfterFunc(delay, func() {
		o.mu.Lock()
		if o.closed || wf.Status != domain.WorkflowPending {
			o.mu.Unlock()
			return
		}
		st.retry = nil
		// recorded on the workflow and logged inside queueStart
		_ = o.queueStart(st, payload)
		snap := wf.Clone()
		o.mu.Unlock()
		o.persist(context.Background(), snap)
	})
	return err
}

// Handle applies one message to the state machine. Orchestration faults are
// recorded on the workflow, never returned.
func (o *Orchestrator) Handle(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	o.mu.Lock()
	st, ok := o.workflows[msg.CorrelationID]
	if !ok {
		o.mu.Unlock()
		if msg.Type == domain.MsgStatusReport {
			return nil, nil
		}
		o.logger.Warn("dropping message for unknown workflow",
			"type", string(msg.Type), "correlation_id", msg.CorrelationID, "sender", msg.Sender)
		return nil, nil
	}
	if st.wf.Status.Terminal() {
		o.mu.Unlock()
		o.logger.Debug("ignoring message for finished workflow",
			"workflow_id", st.wf.ID, "type", string(msg.Type), "status", string(st.wf.Status))
		return nil, nil
	}

	changed := false
	switch msg.Type {
	case domain.MsgIngestRequest:
		changed = o.onStart(st)
	case domain.MsgExtractResult, domain.MsgAnalyzeResult, domain.MsgSummarizeResult, domain.MsgIndexResult:
		changed = o.onResult(st, msg)
	case domain.MsgError:
		changed = o.onError(st, msg)
	case domain.MsgStepTimeout:
		changed = o.onTimeout(st, msg)
	case domain.MsgStepRetry:
		changed = o.onRetry(st, msg)
	default:
		o.logger.Warn("unexpected message type", "workflow_id", st.wf.ID, "type", string(msg.Type))
	}

	var snap *domain.Workflow
	if changed {
		snap = st.wf.Clone()
	}
	o.mu.Unlock()

	if snap != nil {
		o.persist(ctx, snap)
	}
	return nil, nil
}

func (o *Orchestrator) onStart(st *flight) bool {
	if st.wf.Status != domain.WorkflowPending {
		return false
	}
	st.wf.Status = domain.StepIngest.Status()
	o.dispatch(st)
	return true
}

func (o *Orchestrator) onResult(st *flight, msg domain.Message) bool {
	step, _ := domain.StepForResult(msg.Type)
	wf := st.wf
	if step != wf.CurrentStep {
		// late or duplicate result for a step already passed
		o.logger.Debug("ignoring result for non-current step",
			"workflow_id", wf.ID, "step", string(step), "current_step", string(wf.CurrentStep))
		return false
	}

	st.stopTimers()
	st.requestID = ""
	wf.Results[step] = append([]byte(nil), msg.Payload...)
	wf.CurrentStep = step.Next()
	wf.Attempt = 0
	wf.UpdatedAt = time.Now().UTC()

	if wf.CurrentStep == domain.StepDone {
		now := wf.UpdatedAt
		wf.Status = domain.WorkflowCompleted
		wf.CompletedAt = &now
		o.logger.Info("workflow completed", "workflow_id", wf.ID, "duration", now.Sub(wf.StartedAt))
		return true
	}

	wf.Status = wf.CurrentStep.Status()
	o.logger.Debug("workflow advanced", "workflow_id", wf.ID, "step", string(wf.CurrentStep))
	o.dispatch(st)
	return true
}

func (o *Orchestrator) onError(st *flight, msg domain.Message) bool {
	ep := domain.ParseErrorPayload(msg.Payload)
	if st.requestID == "" || ep.OriginalMessageID != st.requestID {
		o.logger.Debug("ignoring stale error reply",
			"workflow_id", st.wf.ID, "original_message_id", ep.OriginalMessageID)
		return false
	}
	agent := ep.AgentID
	if agent == "" {
		agent = msg.Sender
	}
	o.stepFailed(st, agent, errors.New(ep.Error))
	return true
}

func (o *Orchestrator) onTimeout(st *flight, msg domain.Message) bool {
	reqID := gjson.GetBytes(msg.Payload, "request_id").String()
	if st.requestID == "" || reqID != st.requestID {
		return false
	}
	st.timer = nil
	o.stepFailed(st, st.agentID, fmt.Errorf("step %s timed out after %s", st.wf.CurrentStep, o.cfg.StepTimeout))
	return true
}

func (o *Orchestrator) onRetry(st *flight, msg domain.Message) bool {
	attempt := int(gjson.GetBytes(msg.Payload, "attempt").Int())
	if st.requestID != "" || attempt != st.wf.Attempt {
		return false
	}
	st.retry = nil
	o.dispatch(st)
	return true
}

// dispatch sends the request for the workflow's current step. Failing to
// resolve or reach an agent counts as a step error. Caller holds o.mu.
func (o *Orchestrator) dispatch(st *flight) {
	wf := st.wf
	step := wf.CurrentStep
	wf.Attempt++
	wf.UpdatedAt = time.Now().UTC()

	agentID, err := o.agents.Pick(step.AgentType(), wf.ID)
	if err != nil {
		o.stepFailed(st, o.id, err)
		return
	}

	payload, err := domain.BuildStepRequest(wf)
	if err != nil {
		o.stepFailed(st, o.id, err)
		return
	}

	req := domain.NewMessage(step.RequestType(), o.id, agentID, wf.ID, payload)
	st.requestID = req.ID
	st.agentID = agentID
	if err := o.bus.Send(req); err != nil {
		o.stepFailed(st, agentID, fmt.Errorf("send %s: %w", req.Type, err))
		return
	}

	if o.cfg.StepTimeout > 0 {
		timeout, err := sjson.SetBytes([]byte(`{}`), "request_id", req.ID)
		if err == nil {
			st.timer = o.after(o.cfg.StepTimeout, domain.MsgStepTimeout, wf.ID, timeout)
		}
	}
	o.logger.Debug("step dispatched",
		"workflow_id", wf.ID, "step", string(step), "agent_id", agentID, "attempt", wf.Attempt)
}

// stepFailed records the failure and either schedules a retry or fails the
// workflow once the step has used up its budget. Caller holds o.mu.
func (o *Orchestrator) stepFailed(st *flight, agentID string, cause error) {
	st.stopTimers()
	st.requestID = ""
	o.record(st, agentID, cause)

	wf := st.wf
	n := wf.StepErrors(wf.CurrentStep)
	if n >= o.cfg.MaxRetries {
		o.fail(st)
		o.logger.Warn("workflow failed", "workflow_id", wf.ID, "step", string(wf.CurrentStep), "errors", n, "error", cause)
		return
	}

	o.logger.Info("retrying step",
		"workflow_id", wf.ID, "step", string(wf.CurrentStep), "attempt", wf.Attempt, "error", cause)
	delay := o.backoff(n)
	if delay <= 0 {
		o.dispatch(st)
		return
	}
	payload, err := sjson.SetBytes([]byte(`{}`), "attempt", wf.Attempt)
	if err != nil {
		o.dispatch(st)
		return
	}
	st.retry = o.after(delay, domain.MsgStepRetry, wf.ID, payload)
}

func (o *Orchestrator) record(st *flight, agentID string, cause error) {
	now := time.Now().UTC()
	st.wf.Errors = append(st.wf.Errors, domain.ErrorEntry{
		Agent:       agentID,
		Step:        st.wf.CurrentStep,
		Description: cause.Error(),
		Attempt:     st.wf.Attempt,
		At:          now,
	})
	st.wf.UpdatedAt = now
}

func (o *Orchestrator) fail(st *flight) {
	st.stopTimers()
	st.requestID = ""
	now := time.Now().UTC()
	st.wf.Status = domain.WorkflowFailed
	st.wf.UpdatedAt = now
	st.wf.CompletedAt = &now
}

// backoff is RetryBackoff doubled per earlier failure of the step, capped.
func (o *Orchestrator) backoff(failures int) time.Duration {
	d := o.cfg.RetryBackoff
	if d <= 0 {
		return 0
	}
	for i := 1; i < failures && d < o.cfg.RetryBackoffMax; i++ {
		d *= 2
	}
	if d > o.cfg.RetryBackoffMax {
		d = o.cfg.RetryBackoffMax
	}
	return d
}

// after delivers a self-addressed timer message so that its effect is applied
// from the orchestrator's own queue like any other message.
func (o *Orchestrator) after(d time.Duration, typ domain.MessageType, workflowID string, payload domain.Data) *time.Timer {
	var deliver func()
	deliver = func() {
		o.mu.RLock()
		closed := o.closed
		o.mu.RUnlock()
		if closed {
			return
		}
		err := o.bus.Send(domain.NewMessage(typ, o.id, o.id, workflowID, payload))
		if errors.Is(err, domain.ErrQueueFull) {
			time.AfterFunc(timerRedelivery, deliver)
			return
		}
		if err != nil {
			o.logger.Error("timer message not delivered", "workflow_id", workflowID, "type", string(typ), "error", err)
		}
	}
	return time.AfterFunc(d, deliver)
}

func (o *Orchestrator) persist(ctx context.Context, wf *domain.Workflow) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveWorkflow(ctx, wf); err != nil {
		o.logger.Error("save workflow snapshot", "workflow_id", wf.ID, "error", err)
	}
}

// Workflow returns a snapshot of the workflow, falling back to the store for
// workflows this process no longer holds.
func (o *Orchestrator) Workflow(ctx context.Context, id string) (*domain.Workflow, error) {
	o.mu.RLock()
	st, ok := o.workflows[id]
	var snap *domain.Workflow
	if ok {
		snap = st.wf.Clone()
	}
	o.mu.RUnlock()
	if ok {
		return snap, nil
	}

	if o.store != nil {
		return o.store.LoadWorkflow(ctx, id)
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
}

// Workflows lists every in-memory workflow, newest first.
func (o *Orchestrator) Workflows() []*domain.Workflow {
	o.mu.RLock()
	out := make([]*domain.Workflow, 0, len(o.workflows))
	for _, st := range o.workflows {
		out = append(out, st.wf.Clone())
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// ActiveCount is the number of workflows not yet completed or failed.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	n := 0
	for _, st := range o.workflows {
		if !st.wf.Status.Terminal() {
			n++
		}
	}
	return n
}

// Close cancels every pending timeout and retry.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	for _, st := range o.workflows {
		st.stopTimers()
	}
}
