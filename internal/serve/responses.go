package serve

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Error codes returned in the response envelope.
const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeUnavailable   = "SERVICE_UNAVAILABLE"
)

// successResponse is the envelope for successful responses.
type successResponse struct {
	Success   bool                   `json:"success"`
	Timestamp string                 `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// errorResponse is the envelope for failed responses.
type errorResponse struct {
	Success   bool                   `json:"success"`
	Timestamp string                 `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Error     string                 `json:"error"`
	ErrorCode string                 `json:"error_code"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// writeSuccessResponse writes the standard success envelope.
func writeSuccessResponse(w http.ResponseWriter, status int, data map[string]interface{}, reqID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := successResponse{
		Success:   true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: reqID,
		Data:      data,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("REST: failed to encode success response request_id=%s err=%v", reqID, err)
	}
}

// writeErrorResponse writes the standard error envelope.
func writeErrorResponse(w http.ResponseWriter, status int, code, message string, details map[string]interface{}, reqID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := errorResponse{
		Success:   false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: reqID,
		Error:     message,
		ErrorCode: code,
		Details:   details,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("REST: failed to encode error response request_id=%s err=%v", reqID, err)
	}
}
