package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/store"
)

const (
	DefaultSize        = 1000
	defaultBufferItems = 64
)

// Store is a read-through workflow cache in front of another SnapshotStore.
// Every workflow costs 1, so size bounds the number of cached workflows.
type Store struct {
	inner store.SnapshotStore
	cache *ristretto.Cache

	hits   atomic.Int64
	misses atomic.Int64
}

var _ store.SnapshotStore = (*Store)(nil)

func New(inner store.SnapshotStore, size int64) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	// cost is an item count, not bytes
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        size * 10,
		MaxCost:            size,
		BufferItems:        defaultBufferItems,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create workflow cache: %w", err)
	}
	return &Store{inner: inner, cache: c}, nil
}

func (s *Store) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	if err := s.inner.SaveWorkflow(ctx, wf); err != nil {
		s.cache.Del(wf.ID)
		return err
	}
	s.cache.Set(wf.ID, wf.Clone(), 1)
	s.cache.Wait()
	return nil
}

func (s *Store) LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	if v, ok := s.cache.Get(workflowID); ok {
		if wf, ok := v.(*domain.Workflow); ok {
			s.hits.Add(1)
			return wf.Clone(), nil
		}
	}
	s.misses.Add(1)

	wf, err := s.inner.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(workflowID, wf.Clone(), 1)
	return wf, nil
}

func (s *Store) ListWorkflows(ctx context.Context) ([]string, error) {
	return s.inner.ListWorkflows(ctx)
}

func (s *Store) DeleteWorkflow(ctx context.Context, workflowID string) error {
	s.cache.Del(workflowID)
	return s.inner.DeleteWorkflow(ctx, workflowID)
}

func (s *Store) SaveAgent(ctx context.Context, status domain.AgentStatus) error {
	return s.inner.SaveAgent(ctx, status)
}

func (s *Store) LoadAgent(ctx context.Context, agentID string) (*domain.AgentStatus, error) {
	return s.inner.LoadAgent(ctx, agentID)
}

// Stats reports cache hits and misses for workflow loads.
func (s *Store) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

func (s *Store) Close() error {
	s.cache.Close()
	return s.inner.Close()
}
