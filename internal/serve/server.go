// Package serve provides the REST API for pool administration.
package serve

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/credmux/credmux/internal/history"
	"github.com/credmux/credmux/internal/pool"
)

// Server serves the admin API over chi.
type Server struct {
	pool     *pool.Manager
	hist     *history.Store
	wsHub    *WSHub
	adminKey string
}

// NewServer creates a Server. The admin key guards every /api route; the
// bootstrap layer guarantees it is non-empty.
func NewServer(p *pool.Manager, hist *history.Store, hub *WSHub, adminKey string) *Server {
	return &Server{
		pool:     p,
		hist:     hist,
		wsHub:    hub,
		adminKey: adminKey,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		s.registerAccountsRoutes(r)
		s.registerPoolRoutes(r)
		r.Get("/ws", s.handleWS)
	})

	return r
}

// ctxKeyRequestID is the context key for the per-request id.
type ctxKeyRequestID struct{}

var requestIDKey = ctxKeyRequestID{}

// requestIDFromContext extracts the request id set by the middleware.
func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// requestIDMiddleware tags every request with a unique id for log
// correlation.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware enforces the admin bearer credential on API routes.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := requestIDFromContext(r.Context())

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.adminKey {
			log.Printf("REST: unauthorized path=%s request_id=%s", r.URL.Path, reqID)
			writeErrorResponse(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing admin credential", nil, reqID)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealthz reports process liveness and pool readiness. A pool that
// has not reached Ready answers 503 so load balancers hold traffic.
// GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if !s.pool.IsReady() {
		writeErrorResponse(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "pool not ready", nil, reqID)
		return
	}
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"ready": true,
		"time":  time.Now().UTC().Format(time.RFC3339),
	}, reqID)
}
