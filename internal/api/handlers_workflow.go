package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/api/dto"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
)

// Handler: POST /api/v1/documents
func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	// basic validation
	if strings.TrimSpace(req.DocumentID) == "" {
		respondError(w, http.StatusBadRequest, "MISSING_DOCUMENT_ID", "document_id is required")
		return
	}
	if strings.TrimSpace(req.Location) == "" {
		respondError(w, http.StatusBadRequest, "MISSING_LOCATION", "location is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()

	createdAt := time.Now().UTC()
	workflowID, err := s.deps.Trigger.Trigger(ctx, req.DocumentID, req.Location)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// 202: processing continues asynchronously
	respondJSON(w, http.StatusAccepted, dto.SubmitDocumentResponse{
		WorkflowID: workflowID,
		DocumentID: req.DocumentID,
		Status:     string(domain.WorkflowPending),
		CreatedAt:  createdAt,
	})
}

// Handler: POST /api/v1/documents/validate
func (s *Server) handleValidateDocument(w http.ResponseWriter, r *http.Request) {
	if s.deps.Validator == nil {
		respondError(w, http.StatusNotImplemented, "VALIDATOR_DISABLED", "document validation not configured")
		return
	}

	var req dto.ValidateDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Location) == "" {
		respondError(w, http.StatusBadRequest, "MISSING_LOCATION", "location is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()

	report, err := s.deps.Validator.Validate(ctx, req.Location)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Handler: GET /api/v1/workflows
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows := s.deps.Status.Workflows()
	if want := r.URL.Query().Get("status"); want != "" {
		filtered := workflows[:0]
		for _, wf := range workflows {
			if string(wf.Status) == want {
				filtered = append(filtered, wf)
			}
		}
		workflows = filtered
	}

	respondJSON(w, http.StatusOK, dto.WorkflowListResponse{
		Workflows: workflows,
		Count:     len(workflows),
	})
}

// Handler: GET /api/v1/workflows/{id}
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()

	wf, err := s.deps.Status.WorkflowStatus(ctx, workflowID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wf)
}
