package serve

import (
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// historyDefaultLimit bounds GET /pool/history when no limit is given.
const (
	historyDefaultLimit = 50
	historyMaxLimit     = 500
)

// registerPoolRoutes mounts the pool-level endpoints.
func (s *Server) registerPoolRoutes(r chi.Router) {
	r.Route("/pool", func(r chi.Router) {
		r.Post("/reload", s.handlePoolReload)
		r.Get("/history", s.handlePoolHistory)
	})
}

// handlePoolReload forces a full pool reload from the durable store and
// environment, the same path the settings watcher takes.
// POST /api/v1/pool/reload
func (s *Server) handlePoolReload(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	if err := s.pool.Reload(); err != nil {
		log.Printf("REST: pool reload failed request_id=%s err=%v", reqID, err)
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
		return
	}

	stats := s.pool.GetStats()
	log.Printf("REST: pool reloaded accounts=%d request_id=%s", stats.Rotation.Total, reqID)
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"stats":    stats,
	}, reqID)
}

// handlePoolHistory returns recent pool lifecycle events, newest first.
// GET /api/v1/pool/history?limit=N
func (s *Server) handlePoolHistory(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	limit := historyDefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer", nil, reqID)
			return
		}
		limit = min(n, historyMaxLimit)
	}

	events, err := s.hist.Recent(limit)
	if err != nil {
		log.Printf("REST: reading history failed request_id=%s err=%v", reqID, err)
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, "reading history failed", nil, reqID)
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	}, reqID)
}
