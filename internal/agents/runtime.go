package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/bus"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

const DefaultHandlerTimeout = 2 * time.Minute

type Options struct {
	QueueCapacity  int
	HandlerTimeout time.Duration
}

// Agent is the shared runtime around a Handler: it owns the inbound queue,
// runs one message at a time and keeps the status counters.
type Agent struct {
	id      string
	typ     domain.AgentType
	handler ports.Handler
	bus     ports.MessageBus
	queue   *bus.Queue
	timeout time.Duration
	logger  *slog.Logger

	lifeMu  sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu        sync.RWMutex
	state     domain.AgentState
	processed int64
	errors    int64
	handled   int64
	latency   time.Duration
	lastError string
	startedAt time.Time
	updatedAt time.Time
}

// New creates the agent and registers its queue on the bus. The agent stays
// stopped until Start.
func New(id string, typ domain.AgentType, handler ports.Handler, b ports.MessageBus, opts Options, logger *slog.Logger) (*Agent, error) {
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = DefaultHandlerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Agent{
		id:        id,
		typ:       typ,
		handler:   handler,
		bus:       b,
		queue:     bus.NewQueue(opts.QueueCapacity),
		timeout:   opts.HandlerTimeout,
		logger:    logger.With("agent_id", id, "agent_type", string(typ)),
		state:     domain.StateStopped,
		updatedAt: time.Now().UTC(),
	}

	if err := b.Register(id, a.queue); err != nil {
		return nil, fmt.Errorf("register %s: %w", id, err)
	}
	return a, nil
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) Type() domain.AgentType { return a.typ }

func (a *Agent) Queue() ports.Queue { return a.queue }

func (a *Agent) Handler() ports.Handler { return a.handler }

// Start begins the run loop. Calling it on a running agent is a no-op.
func (a *Agent) Start(ctx context.Context) {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()

	if a.cancel != nil {
		return
	}
	if a.baseCtx == nil {
		a.baseCtx = ctx
	}

	runCtx, cancel := context.WithCancel(a.baseCtx)
	done := make(chan struct{})
	a.cancel = cancel
	a.done = done

	now := time.Now().UTC()
	a.mu.Lock()
	a.state = domain.StateIdle
	a.startedAt = now
	a.updatedAt = now
	a.mu.Unlock()

	go a.run(runCtx, done)
	a.logger.Info("agent started")
}

// Stop signals the run loop and waits for the in-flight message to finish.
// Messages still queued are kept for the next Start.
func (a *Agent) Stop() {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	a.stopLocked()
}

func (a *Agent) stopLocked() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	a.cancel = nil
	a.done = nil

	a.mu.Lock()
	a.state = domain.StateStopped
	a.updatedAt = time.Now().UTC()
	a.mu.Unlock()

	a.logger.Info("agent stopped")
}

// Restart stops the agent, zeroes its counters, clears the error state and
// starts it again on the context it was first started with.
func (a *Agent) Restart() {
	a.lifeMu.Lock()
	a.stopLocked()

	a.mu.Lock()
	a.processed = 0
	a.errors = 0
	a.handled = 0
	a.latency = 0
	a.lastError = ""
	a.mu.Unlock()

	if a.baseCtx == nil {
		a.baseCtx = context.Background()
	}
	base := a.baseCtx
	a.lifeMu.Unlock()

	a.Start(base)
	a.logger.Info("agent restarted")
}

// Close stops the agent and removes it from the bus.
func (a *Agent) Close() {
	a.Stop()
	a.bus.Unregister(a.id)
}

func (a *Agent) Running() bool {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	return a.cancel != nil
}

// Status returns a snapshot without waiting for the current message.
func (a *Agent) Status() domain.AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var avg time.Duration
	if a.handled > 0 {
		avg = a.latency / time.Duration(a.handled)
	}

	return domain.AgentStatus{
		ID:            a.id,
		Type:          a.typ,
		State:         a.state,
		QueueDepth:    a.queue.Len(),
		QueueCapacity: a.queue.Cap(),
		Processed:     a.processed,
		Errors:        a.errors,
		AvgLatency:    avg,
		LastError:     a.lastError,
		StartedAt:     a.startedAt,
		UpdatedAt:     a.updatedAt,
	}
}

func (a *Agent) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case msg := <-a.queue.C():
			a.process(ctx, msg)
		}
	}
}

func (a *Agent) process(ctx context.Context, msg domain.Message) {
	if msg.Type == domain.MsgStatusQuery {
		a.reportStatus(msg)
		return
	}

	a.begin()
	start := time.Now()

	// The in-flight message is never cut short by Stop; only the watchdog applies.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	var (
		reply *domain.Message
		err   error
	)
	var pc panics.Catcher
	pc.Try(func() {
		reply, err = a.handler.Handle(hctx, msg)
	})
	cancel()
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}

	a.finish(time.Since(start), err)

	if err != nil {
		a.logger.Error("handle failed",
			"message_id", msg.ID,
			"type", string(msg.Type),
			"correlation_id", msg.CorrelationID,
			"error", err,
		)
		a.replyError(msg, err)
		return
	}

	a.logger.Debug("message handled", "message_id", msg.ID, "type", string(msg.Type), "duration", time.Since(start))
	if reply != nil {
		if reply.Sender == "" {
			reply.Sender = a.id
		}
		if err := a.bus.Send(*reply); err != nil {
			a.logger.Error("reply not delivered", "recipient", reply.Recipient, "type", string(reply.Type), "error", err)
		}
	}
}

func (a *Agent) begin() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = domain.StateBusy
	a.updatedAt = time.Now().UTC()
}

func (a *Agent) finish(elapsed time.Duration, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.handled++
	a.latency += elapsed
	a.updatedAt = time.Now().UTC()

	if err != nil {
		a.errors++
		a.lastError = err.Error()
		a.state = domain.StateError
		return
	}
	a.processed++
	a.state = domain.StateIdle
}

func (a *Agent) replyError(orig domain.Message, cause error) {
	// Errors about errors would ping-pong between agents.
	if orig.Sender == "" || orig.Type == domain.MsgError {
		return
	}

	payload, err := json.Marshal(domain.ErrorPayload{
		Error:             cause.Error(),
		OriginalMessageID: orig.ID,
		OriginalType:      orig.Type,
		AgentID:           a.id,
	})
	if err != nil {
		a.logger.Error("encode error reply", "error", err)
		return
	}

	reply := domain.NewReply(orig, a.id, domain.MsgError, payload)
	if err := a.bus.Send(reply); err != nil {
		a.logger.Warn("error reply not delivered", "recipient", orig.Sender, "error", err)
	}
}

func (a *Agent) reportStatus(query domain.Message) {
	if query.Sender == "" || query.Sender == a.id {
		return
	}
	payload, err := json.Marshal(a.Status())
	if err != nil {
		return
	}
	if err := a.bus.Send(domain.NewReply(query, a.id, domain.MsgStatusReport, payload)); err != nil {
		a.logger.Debug("status report not delivered", "recipient", query.Sender, "error", err)
	}
}
