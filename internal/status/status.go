package status

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/store"
)

const (
	DefaultMessageLimit = 100
	persistWorkers      = 4
)

type AgentSource interface {
	Statuses() []domain.AgentStatus
}

type WorkflowSource interface {
	Workflow(ctx context.Context, id string) (*domain.Workflow, error)
	Workflows() []*domain.Workflow
	ActiveCount() int
}

type HistorySource interface {
	History(limit int) []domain.Message
	HistorySize() int
}

// SystemStatus is a point-in-time view over every agent and workflow.
type SystemStatus struct {
	Agents          []domain.AgentStatus `json:"agents"`
	ActiveWorkflows int                  `json:"active_workflows"`
	TotalWorkflows  int                  `json:"total_workflows"`
	HistorySize     int                  `json:"message_history_size"`
	TotalProcessed  int64                `json:"total_messages_processed"`
	TotalErrors     int64                `json:"total_errors"`
	ErrorRate       float64              `json:"error_rate"`
	AvgLatency      time.Duration        `json:"avg_processing_time_ns"`
	GeneratedAt     time.Time            `json:"generated_at"`
}

// Service is the read side over agents, workflows and bus history. It never
// mutates what it reads.
type Service struct {
	agents    AgentSource
	workflows WorkflowSource
	history   HistorySource
	store     store.SnapshotStore
}

// New builds the status service. st may be nil.
func New(agents AgentSource, workflows WorkflowSource, history HistorySource, st store.SnapshotStore) *Service {
	return &Service{agents: agents, workflows: workflows, history: history, store: st}
}

func (s *Service) SystemStatus() SystemStatus {
	agents := s.agents.Statuses()
	out := SystemStatus{
		Agents:          agents,
		ActiveWorkflows: s.workflows.ActiveCount(),
		TotalWorkflows:  len(s.workflows.Workflows()),
		HistorySize:     s.history.HistorySize(),
		GeneratedAt:     time.Now().UTC(),
	}

	var weighted time.Duration
	var handled int64
	for _, a := range agents {
		out.TotalProcessed += a.Processed
		out.TotalErrors += a.Errors
		n := a.Processed + a.Errors
		weighted += a.AvgLatency * time.Duration(n)
		handled += n
	}
	if handled > 0 {
		out.AvgLatency = weighted / time.Duration(handled)
		out.ErrorRate = math.Round(float64(out.TotalErrors)/float64(handled)*1e4) / 1e4
	}
	return out
}

func (s *Service) WorkflowStatus(ctx context.Context, id string) (*domain.Workflow, error) {
	return s.workflows.Workflow(ctx, id)
}

func (s *Service) Workflows() []*domain.Workflow {
	return s.workflows.Workflows()
}

func (s *Service) Agents() []domain.AgentStatus {
	return s.agents.Statuses()
}

// Messages returns up to limit recent bus messages, newest last.
func (s *Service) Messages(limit int) []domain.Message {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	return s.history.History(limit)
}

// Persist writes every agent status to the store.
func (s *Service) Persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	p := pool.New().WithContext(ctx).WithMaxGoroutines(persistWorkers)
	for _, a := range s.agents.Statuses() {
		a := a
		p.Go(func(ctx context.Context) error {
			if err := s.store.SaveAgent(ctx, a); err != nil {
				return fmt.Errorf("save agent %s: %w", a.ID, err)
			}
			return nil
		})
	}
	return p.Wait()
}

// Run persists agent statuses every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration, onError func(error)) {
	if s.store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Persist(ctx); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
