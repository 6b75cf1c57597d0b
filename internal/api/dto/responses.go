package dto

import (
	"time"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

type SubmitDocumentResponse struct {
	WorkflowID string    `json:"workflow_id"`
	DocumentID string    `json:"document_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type WorkflowListResponse struct {
	Workflows []*domain.Workflow `json:"workflows"`
	Count     int                `json:"count"`
}

type AgentListResponse struct {
	Agents []domain.AgentStatus `json:"agents"`
	Count  int                  `json:"count"`
}

type RestartResponse struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}

type MessageListResponse struct {
	Messages []domain.Message `json:"messages"`
	Count    int              `json:"count"`
}

type SearchResponse struct {
	Query   string               `json:"query"`
	Results []ports.IndexedChunk `json:"results"`
	Count   int                  `json:"count"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	NodeID    string    `json:"node_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}
