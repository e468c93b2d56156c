package serve

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/credmux/credmux/internal/pool"
)

// registerAccountsRoutes mounts the account management endpoints.
func (s *Server) registerAccountsRoutes(r chi.Router) {
	r.Route("/accounts", func(r chi.Router) {
		r.Get("/", s.handleListAccounts)
		r.Post("/", s.handleAddAccount)
		r.Get("/stats", s.handleAccountStats)
		r.Delete("/{accountID}", s.handleRemoveAccount)
		r.Post("/{accountID}/report", s.handleReportOutcome)
	})
}

// handleListAccounts lists pool accounts. Cookies and tokens are never
// included; the pool redacts them before the snapshot leaves the manager.
// GET /api/v1/accounts
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	accounts := s.pool.Accounts()
	log.Printf("REST: list accounts count=%d request_id=%s", len(accounts), reqID)

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	}, reqID)
}

// addAccountRequest is the body for POST /api/v1/accounts.
type addAccountRequest struct {
	ID     string `json:"id"`
	Cookie string `json:"cookie"`
}

// handleAddAccount adds a credential to the live pool.
// POST /api/v1/accounts
func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())

	var req addAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", nil, reqID)
		return
	}
	if req.ID == "" || req.Cookie == "" {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "id and cookie are required", nil, reqID)
		return
	}

	if err := s.pool.AddAccount(req.ID, req.Cookie); err != nil {
		log.Printf("REST: add account failed id=%s request_id=%s err=%v", req.ID, reqID, err)
		switch {
		case errors.Is(err, pool.ErrDuplicateAccount):
			writeErrorResponse(w, http.StatusConflict, ErrCodeConflict, err.Error(), nil, reqID)
		case errors.Is(err, pool.ErrInvalidCredential):
			writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil, reqID)
		default:
			writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
		}
		return
	}

	log.Printf("REST: account added id=%s request_id=%s", req.ID, reqID)
	writeSuccessResponse(w, http.StatusCreated, map[string]interface{}{
		"id": req.ID,
	}, reqID)
}

// handleRemoveAccount removes a credential from the live pool.
// DELETE /api/v1/accounts/{accountID}
func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	accountID := chi.URLParam(r, "accountID")

	if err := s.pool.RemoveAccount(accountID); err != nil {
		if errors.Is(err, pool.ErrAccountNotFound) {
			writeErrorResponse(w, http.StatusNotFound, ErrCodeNotFound, err.Error(), nil, reqID)
			return
		}
		writeErrorResponse(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil, reqID)
		return
	}

	log.Printf("REST: account removed id=%s request_id=%s", accountID, reqID)
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"id":      accountID,
		"removed": true,
	}, reqID)
}

// handleAccountStats returns the pool health snapshot.
// GET /api/v1/accounts/stats
func (s *Server) handleAccountStats(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"stats": s.pool.GetStats(),
	}, reqID)
}

// reportRequest is the body for POST /api/v1/accounts/{accountID}/report.
type reportRequest struct {
	Outcome string `json:"outcome"`
}

// handleReportOutcome records an upstream success or failure against an
// account, feeding the rotator's health tracking.
// POST /api/v1/accounts/{accountID}/report
func (s *Server) handleReportOutcome(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	accountID := chi.URLParam(r, "accountID")

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body", nil, reqID)
		return
	}

	switch req.Outcome {
	case "failure":
		s.pool.ReportFailure(accountID)
	case "success":
		s.pool.ReportSuccess(accountID)
	default:
		writeErrorResponse(w, http.StatusBadRequest, ErrCodeBadRequest, "outcome must be \"failure\" or \"success\"", nil, reqID)
		return
	}

	log.Printf("REST: outcome reported id=%s outcome=%s request_id=%s", accountID, req.Outcome, reqID)
	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"id":      accountID,
		"outcome": req.Outcome,
	}, reqID)
}
