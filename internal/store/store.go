package store

import (
	"context"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
)

// SnapshotStore persists workflow and agent snapshots beyond process lifetime.
// Load methods return an error wrapping domain.ErrWorkflowNotFound or
// domain.ErrAgentNotFound when the key is absent.
type SnapshotStore interface {
	// Workflows
	SaveWorkflow(ctx context.Context, wf *domain.Workflow) error
	LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error)
	ListWorkflows(ctx context.Context) ([]string, error)
	DeleteWorkflow(ctx context.Context, workflowID string) error

	// agent status snapshots
	SaveAgent(ctx context.Context, status domain.AgentStatus) error
	LoadAgent(ctx context.Context, agentID string) (*domain.AgentStatus, error)

	Close() error
}
