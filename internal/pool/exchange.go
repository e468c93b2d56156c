package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CliInfo is the elevated-session sub-record: a secondary token pair with
// its own refresh lifecycle and daily usage quota. Never persisted.
type CliInfo struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	RequestCount int    `json:"request_count"`
}

// Exchanger creates and refreshes elevated sessions against the upstream.
type Exchanger interface {
	// Bootstrap creates an elevated session from a bearer token.
	Bootstrap(ctx context.Context, token string) (*CliInfo, error)

	// Refresh exchanges the current credential triple for a fresh one.
	Refresh(ctx context.Context, info *CliInfo) (*CliInfo, error)
}

// HTTPExchanger is the default Exchanger, talking JSON to the upstream
// refresh endpoint.
type HTTPExchanger struct {
	URL    string
	Client *http.Client
}

// NewHTTPExchanger creates an exchanger for the given endpoint.
func NewHTTPExchanger(url string) *HTTPExchanger {
	return &HTTPExchanger{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
	}
}

type exchangeResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Bootstrap implements Exchanger.
func (e *HTTPExchanger) Bootstrap(ctx context.Context, token string) (*CliInfo, error) {
	payload := map[string]string{"session_token": token}
	resp, err := e.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &CliInfo{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt,
	}, nil
}

// Refresh implements Exchanger.
func (e *HTTPExchanger) Refresh(ctx context.Context, info *CliInfo) (*CliInfo, error) {
	payload := map[string]string{"refresh_token": info.RefreshToken}
	resp, err := e.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &CliInfo{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt,
		RequestCount: info.RequestCount,
	}, nil
}

func (e *HTTPExchanger) post(ctx context.Context, payload map[string]string) (*exchangeResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("pool: encoding exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pool: building exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pool: exchange call: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pool: exchange returned status %d", res.StatusCode)
	}

	var out exchangeResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("pool: decoding exchange response: %w", err)
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return nil, fmt.Errorf("pool: exchange response missing tokens")
	}
	return &out, nil
}
