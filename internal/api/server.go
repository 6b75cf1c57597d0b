package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/api/dto"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/index"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/status"
)

const (
	Version        = "0.1.0"
	requestTimeout = 30 * time.Second
	callTimeout    = 5 * time.Second
)

type Trigger interface {
	Trigger(ctx context.Context, documentID, location string) (string, error)
}

type StatusReader interface {
	SystemStatus() status.SystemStatus
	WorkflowStatus(ctx context.Context, id string) (*domain.Workflow, error)
	Workflows() []*domain.Workflow
	Agents() []domain.AgentStatus
	Messages(limit int) []domain.Message
}

type AgentRestarter interface {
	Restart(id string) error
}

type Validator interface {
	Validate(ctx context.Context, location string) (*ports.Validation, error)
}

// Deps are the API dependencies. Validator and Index may be nil.
type Deps struct {
	Trigger   Trigger
	Status    StatusReader
	Agents    AgentRestarter
	Validator Validator
	Index     ports.Indexer
	NodeID    string
}

// Server holds the API dependencies and router.
type Server struct {
	router *chi.Mux
	deps   Deps
}

// NewServer builds the router over the injected dependencies.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(requestTimeout))
	s.router.Use(jsonContentType)
}

func (s *Server) setupRoutes() {
	// Health
	s.router.Get("/health", s.handleHealth)

	// API v1
	s.router.Route("/api/v1", func(r chi.Router) {
		// Documentos
		r.Post("/documents", s.handleSubmitDocument)
		r.Post("/documents/validate", s.handleValidateDocument)

		// Workflows
		r.Get("/workflows", s.handleListWorkflows)
		r.Get("/workflows/{id}", s.handleGetWorkflow)

		// Sistema
		r.Get("/status", s.handleSystemStatus)
		r.Get("/agents", s.handleListAgents)
		r.Post("/agents/{id}/restart", s.handleRestartAgent)
		r.Get("/messages", s.handleListMessages)

		// Busca
		r.Get("/search", s.handleSearch)
		r.Post("/query", s.handleQuery)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler: Health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, dto.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
		NodeID:    s.deps.NodeID,
	})
}

// Helper: JSON content-type
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Helper: Responder JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: Responder erro
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// respondDomainError maps domain sentinel errors to HTTP status codes.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, index.ErrEmptyQuery):
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrWorkflowNotFound):
		respondError(w, http.StatusNotFound, "WORKFLOW_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrAgentNotFound):
		respondError(w, http.StatusNotFound, "AGENT_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrUnsupportedDocument):
		respondError(w, http.StatusUnprocessableEntity, "UNSUPPORTED_DOCUMENT", err.Error())
	case errors.Is(err, domain.ErrQueueFull):
		respondError(w, http.StatusServiceUnavailable, "QUEUE_FULL", err.Error())
	case errors.Is(err, domain.ErrNoAgentForType), errors.Is(err, domain.ErrUnknownRecipient):
		respondError(w, http.StatusServiceUnavailable, "NO_AGENT", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return false
	}
	return true
}
