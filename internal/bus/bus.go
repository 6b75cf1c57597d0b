package bus

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

const DefaultHistorySize = 1000

type Config struct {
	HistorySize int
	Tap         ports.MessageTap
}

// Bus routes messages into per-agent queues and keeps a bounded history of
// everything it accepted. It never interprets payloads.
type Bus struct {
	mu     sync.RWMutex
	queues map[string]ports.Queue

	histMu  sync.Mutex
	seq     uint64
	history *lru.Cache[uint64, domain.Message]

	tap    ports.MessageTap
	logger *slog.Logger
}

var _ ports.MessageBus = (*Bus)(nil)

func New(cfg Config, logger *slog.Logger) (*Bus, error) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if logger == nil {
		logger = slog.Default()
	}

	history, err := lru.New[uint64, domain.Message](cfg.HistorySize)
	if err != nil {
		return nil, fmt.Errorf("history buffer: %w", err)
	}

	return &Bus{
		queues:  make(map[string]ports.Queue),
		history: history,
		tap:     cfg.Tap,
		logger:  logger.With("component", "bus"),
	}, nil
}

func (b *Bus) Register(agentID string, queue ports.Queue) error {
	if agentID == "" || agentID == domain.Broadcast {
		return fmt.Errorf("invalid agent id %q", agentID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[agentID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateAgent, agentID)
	}
	b.queues[agentID] = queue
	b.logger.Debug("agent registered", "agent_id", agentID, "capacity", queue.Cap())
	return nil
}

// Unregister removes the routing entry. Messages already in the agent's queue
// stay there for its run loop to drain.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.queues, agentID)
	b.logger.Debug("agent unregistered", "agent_id", agentID)
}

// Agents returns the registered agent ids, sorted.
func (b *Bus) Agents() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0, len(b.queues))
	for id := range b.queues {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *Bus) Send(msg domain.Message) error {
	if msg.IsBroadcast() {
		return b.Broadcast(msg)
	}

	b.mu.RLock()
	queue, ok := b.queues[msg.Recipient]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownRecipient, msg.Recipient)
	}
	return b.deliver(queue, msg)
}

// Broadcast delivers a copy to every registered agent except the sender.
// Failed recipients do not stop delivery to the others; they are reported
// together as a *BroadcastError.
func (b *Bus) Broadcast(msg domain.Message) error {
	b.mu.RLock()
	targets := make(map[string]ports.Queue, len(b.queues))
	for id, q := range b.queues {
		if id == msg.Sender {
			continue
		}
		targets[id] = q
	}
	b.mu.RUnlock()

	var failed map[string]error
	for id, q := range targets {
		if err := b.deliver(q, msg.WithRecipient(id)); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[id] = err
		}
	}

	if len(failed) > 0 {
		return &BroadcastError{Delivered: len(targets) - len(failed), Failed: failed}
	}
	return nil
}

func (b *Bus) deliver(queue ports.Queue, msg domain.Message) error {
	if err := queue.Enqueue(msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Type, msg.Recipient, err)
	}

	b.histMu.Lock()
	b.seq++
	b.history.Add(b.seq, msg)
	b.histMu.Unlock()

	if b.tap != nil {
		b.tap.Observe(msg)
	}
	return nil
}

// History returns up to limit of the most recent messages, newest last.
// limit <= 0 returns everything retained.
func (b *Bus) History(limit int) []domain.Message {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	keys := b.history.Keys()
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	out := make([]domain.Message, 0, len(keys))
	for _, k := range keys {
		if msg, ok := b.history.Peek(k); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (b *Bus) HistorySize() int {
	return b.history.Len()
}

// BroadcastError lists the recipients a broadcast could not reach.
type BroadcastError struct {
	Delivered int
	Failed    map[string]error
}

func (e *BroadcastError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return fmt.Sprintf("broadcast delivered to %d, failed for %d (%s)", e.Delivered, len(e.Failed), strings.Join(ids, ", "))
}

func (e *BroadcastError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}
