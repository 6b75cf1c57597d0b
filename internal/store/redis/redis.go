package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/store"
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ store.SnapshotStore = (*RedisStore)(nil)

type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	DefaultTTL time.Duration
}

func New(cfg Config) (*RedisStore, error) {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{
		client: client,
		ttl:    cfg.DefaultTTL,
	}, nil
}

// Chaves Redis:
// workflow:{id} -> json do workflow
// workflows:index -> set de workflow ids
// index:status:{status} -> set de workflow ids por status
// agent:{id} -> json do AgentStatus

func workflowKey(id string) string {
	return fmt.Sprintf("workflow:%s", id)
}

func statusIndexKey(status domain.WorkflowStatus) string {
	return fmt.Sprintf("index:status:%s", status)
}

func agentKey(id string) string {
	return fmt.Sprintf("agent:%s", id)
}

const workflowsIndexKey = "workflows:index"

var allStatuses = []domain.WorkflowStatus{
	domain.WorkflowPending, domain.WorkflowIngesting, domain.WorkflowAnalyzing,
	domain.WorkflowSummarizing, domain.WorkflowIndexing, domain.WorkflowCompleted, domain.WorkflowFailed,
}

func (r *RedisStore) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, workflowKey(wf.ID), data, r.ttl)
	pipe.SAdd(ctx, workflowsIndexKey, wf.ID)
	for _, s := range allStatuses {
		if s != wf.Status {
			pipe.SRem(ctx, statusIndexKey(s), wf.ID)
		}
	}
	pipe.SAdd(ctx, statusIndexKey(wf.Status), wf.ID)

	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	data, err := r.client.Get(ctx, workflowKey(workflowID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, workflowID)
	}
	if err != nil {
		return nil, err
	}

	var wf domain.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &wf, nil
}

// ListWorkflows returns stored workflow ids, sorted. Ids whose snapshot has
// expired are pruned from the index on the way.
func (r *RedisStore) ListWorkflows(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, workflowsIndexKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := r.client.Exists(ctx, workflowKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			r.client.SRem(ctx, workflowsIndexKey, id)
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ListByStatus returns the ids of stored workflows currently in status.
func (r *RedisStore) ListByStatus(ctx context.Context, status domain.WorkflowStatus) ([]string, error) {
	ids, err := r.client.SMembers(ctx, statusIndexKey(status)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteWorkflow remove tudo
func (r *RedisStore) DeleteWorkflow(ctx context.Context, workflowID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, workflowKey(workflowID))
	pipe.SRem(ctx, workflowsIndexKey, workflowID)
	for _, s := range allStatuses {
		pipe.SRem(ctx, statusIndexKey(s), workflowID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) SaveAgent(ctx context.Context, status domain.AgentStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal agent status: %w", err)
	}
	return r.client.Set(ctx, agentKey(status.ID), data, r.ttl).Err()
}

func (r *RedisStore) LoadAgent(ctx context.Context, agentID string) (*domain.AgentStatus, error) {
	data, err := r.client.Get(ctx, agentKey(agentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, agentID)
	}
	if err != nil {
		return nil, err
	}

	var status domain.AgentStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent status: %w", err)
	}
	return &status, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
