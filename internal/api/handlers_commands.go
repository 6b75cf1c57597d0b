package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/api/dto"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/index"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/status"
)

// Handler: GET /api/v1/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Status.SystemStatus())
}

// Handler: GET /api/v1/agents
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.deps.Status.Agents()
	respondJSON(w, http.StatusOK, dto.AgentListResponse{Agents: agents, Count: len(agents)})
}

// Handler: POST /api/v1/agents/{id}/restart
func (s *Server) handleRestartAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")

	if err := s.deps.Agents.Restart(agentID); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.RestartResponse{AgentID: agentID, Status: "restarted"})
}

// Handler: GET /api/v1/messages?limit=N
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, status.DefaultMessageLimit)
	if !ok {
		return
	}
	msgs := s.deps.Status.Messages(limit)
	respondJSON(w, http.StatusOK, dto.MessageListResponse{Messages: msgs, Count: len(msgs)})
}

// Handler: GET /api/v1/search?q=...&limit=N
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.deps.Index == nil {
		respondError(w, http.StatusNotImplemented, "INDEX_DISABLED", "search index not configured")
		return
	}
	limit, ok := queryLimit(w, r, index.DefaultLimit)
	if !ok {
		return
	}
	q := r.URL.Query().Get("q")

	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()

	hits, err := s.deps.Index.Search(ctx, q, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.SearchResponse{Query: q, Results: hits, Count: len(hits)})
}

// Handler: POST /api/v1/query
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Index == nil {
		respondError(w, http.StatusNotImplemented, "INDEX_DISABLED", "search index not configured")
		return
	}

	var req dto.QueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), callTimeout)
	defer cancel()

	answer, err := index.Ask(ctx, s.deps.Index, req.Question, req.Limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, answer)
}

func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
