package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
	"github.com/sourcegraph/conc"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

// Factory builds the handler for a new replica of an agent type.
type Factory func(id string) (ports.Handler, error)

// Registry knows how to build each agent type and tracks every live agent.
type Registry struct {
	bus    ports.MessageBus
	opts   Options
	logger *slog.Logger

	mu        sync.RWMutex
	factories map[domain.AgentType]Factory
	agents    map[string]*Agent
}

var _ ports.AgentDirectory = (*Registry)(nil)

func NewRegistry(b ports.MessageBus, opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		bus:       b,
		opts:      opts,
		logger:    logger,
		factories: make(map[domain.AgentType]Factory),
		agents:    make(map[string]*Agent),
	}
}

func (r *Registry) Register(agentType domain.AgentType, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[agentType] = factory
}

// Spawn creates n replicas named "<type>-1".."<type>-n".
func (r *Registry) Spawn(agentType domain.AgentType, n int) ([]*Agent, error) {
	r.mu.RLock()
	factory, ok := r.factories[agentType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent type: %s", agentType)
	}

	spawned := make([]*Agent, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s-%d", agentType, i)
		handler, err := factory(id)
		if err != nil {
			return spawned, fmt.Errorf("build %s: %w", id, err)
		}
		agent, err := r.Add(id, agentType, handler)
		if err != nil {
			return spawned, err
		}
		spawned = append(spawned, agent)
	}
	return spawned, nil
}

// Add wraps handler in a runtime agent under id.
func (r *Registry) Add(id string, agentType domain.AgentType, handler ports.Handler) (*Agent, error) {
	agent, err := New(id, agentType, handler, r.bus, r.opts, r.logger)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.agents[id] = agent
	r.mu.Unlock()
	return agent, nil
}

func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, id)
	}
	return agent, nil
}

// All returns the agents sorted by id.
func (r *Registry) All() []*Agent {
	r.mu.RLock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// IDs returns the ids of the running agents of agentType, sorted.
func (r *Registry) IDs(agentType domain.AgentType) []string {
	var ids []string
	for _, a := range r.All() {
		if a.Type() == agentType && a.Running() {
			ids = append(ids, a.ID())
		}
	}
	return ids
}

// Pick chooses the replica of agentType that owns key. The choice is stable
// for a given replica set, so all steps of one workflow land on the same node.
func (r *Registry) Pick(agentType domain.AgentType, key string) (string, error) {
	ids := r.IDs(agentType)
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", domain.ErrNoAgentForType, agentType)
	case 1:
		return ids[0], nil
	}
	return rendezvous.New(ids, xxhash.Sum64String).Lookup(key), nil
}

func (r *Registry) StartAll(ctx context.Context) {
	for _, a := range r.All() {
		a.Start(ctx)
	}
}

// StopAll stops every agent in parallel and waits for in-flight messages.
func (r *Registry) StopAll() {
	var wg conc.WaitGroup
	for _, a := range r.All() {
		wg.Go(a.Stop)
	}
	wg.Wait()
}

func (r *Registry) Restart(id string) error {
	agent, err := r.Get(id)
	if err != nil {
		return err
	}
	agent.Restart()
	return nil
}

func (r *Registry) Statuses() []domain.AgentStatus {
	agents := r.All()
	out := make([]domain.AgentStatus, 0, len(agents))
	for _, a := range agents {
		out = append(out, a.Status())
	}
	return out
}
