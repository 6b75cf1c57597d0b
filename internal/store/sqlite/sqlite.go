package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/store"
)

const DefaultPath = "data/docintel.db"

// Store keeps workflow and agent snapshots in a local SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

var _ store.SnapshotStore = (*Store)(nil)

func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workflows (
		id           TEXT PRIMARY KEY,
		document_id  TEXT NOT NULL,
		status       TEXT NOT NULL,
		current_step TEXT NOT NULL,
		error_count  INTEGER NOT NULL DEFAULT 0,
		data         TEXT NOT NULL,
		started_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status);
	CREATE INDEX IF NOT EXISTS idx_workflows_document ON workflows(document_id);

	CREATE TABLE IF NOT EXISTS agent_metrics (
		id         TEXT PRIMARY KEY,
		type       TEXT NOT NULL,
		state      TEXT NOT NULL,
		processed  INTEGER NOT NULL,
		errors     INTEGER NOT NULL,
		data       TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO workflows
		(id, document_id, status, current_step, error_count, data, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.DocumentID, string(wf.Status), string(wf.CurrentStep), len(wf.Errors),
		string(data), wf.StartedAt.UTC(), wf.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (s *Store) LoadWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM workflows WHERE id = ?`, workflowID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}

	var wf domain.Workflow
	if err := json.Unmarshal([]byte(data), &wf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow: %w", err)
	}
	return &wf, nil
}

// ListWorkflows returns workflow ids, newest first.
func (s *Store) ListWorkflows(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM workflows ORDER BY started_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) DeleteWorkflow(ctx context.Context, workflowID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, workflowID)
	return err
}

func (s *Store) SaveAgent(ctx context.Context, status domain.AgentStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal agent status: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO agent_metrics
		(id, type, state, processed, errors, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		status.ID, string(status.Type), status.State.String(), status.Processed, status.Errors,
		string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", status.ID, err)
	}
	return nil
}

func (s *Store) LoadAgent(ctx context.Context, agentID string) (*domain.AgentStatus, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM agent_metrics WHERE id = ?`, agentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotFound, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("load agent %s: %w", agentID, err)
	}

	var status domain.AgentStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal agent status: %w", err)
	}
	return &status, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
