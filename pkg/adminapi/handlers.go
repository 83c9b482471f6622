package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tuskdb/tuskcore/pkg/dberr"
)

// handleHealthz reports liveness unconditionally, plus the configured
// backing store's health (if any) as a readiness signal.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := s.healthCheck(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.AllPoolStatuses())
}

func (s *Server) handleListQueries(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.ActiveQueryIDs()
	if ids == nil {
		ids = []uuid.UUID{}
	}
	respondJSON(w, http.StatusOK, ids)
}

func (s *Server) handleCancelQuery(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid query id")
		return
	}

	if !s.registry.CancelQuery(r.Context(), id) {
		respondErr(w, http.StatusNotFound, "no such query")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (s *Server) handleDescriptorSchema(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid descriptor id")
		return
	}

	snapshot, err := s.registry.EnsureSchema(r.Context(), id)
	if err != nil {
		s.respondDBErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func respondErr(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDBErr classifies err through dberr and writes its DisplayInfo
// envelope at a status derived from the error's Kind.
func (s *Server) respondDBErr(w http.ResponseWriter, r *http.Request, err error) {
	classified := dberr.Classify(err)
	s.logger.Error("admin request failed",
		"path", r.URL.Path,
		"kind", classified.Kind,
		"error", classified,
	)
	respondJSON(w, statusForKind(classified.Kind), dberr.ToDisplay(classified))
}

func statusForKind(kind dberr.Kind) int {
	switch kind {
	case dberr.Authentication:
		return http.StatusUnauthorized
	case dberr.Config:
		return http.StatusBadRequest
	case dberr.QueryCancelled:
		return http.StatusConflict
	case dberr.PoolTimeout:
		return http.StatusServiceUnavailable
	case dberr.Connection, dberr.Ssl, dberr.Ssh:
		return http.StatusBadGateway
	case dberr.Internal, dberr.Storage, dberr.Keyring:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
