package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"pumparena/internal/domain"
)

// CreditRequest is one idempotency-keyed balance mutation sent to the
// external ledger. Replaying the same key must never double-pay; the
// ledger deduplicates on it.
type CreditRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	RoomID         string `json:"room_id"`
	Round          uint64 `json:"round"`
	Player         string `json:"player"`
	PayoutUnits    int64  `json:"payout_units"`
	StakeUnits     int64  `json:"stake_units"`
}

// LedgerClient is the contract the settlement pipeline expects from
// the external balance ledger. A nil error means the credit is
// confirmed. A *domain.LedgerError distinguishes transient failures
// (retried with backoff) from definitive rejections (terminal for the
// record).
type LedgerClient interface {
	Credit(ctx context.Context, req CreditRequest) error
}

// creditResponse is the gateway's reply envelope.
type creditResponse struct {
	Status string `json:"status"` // confirmed | rejected
	Reason string `json:"reason,omitempty"`
}

// HTTPLedgerClient talks to the ledger gateway over JSON/HTTP.
type HTTPLedgerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPLedgerClient creates a ledger client for the given gateway URL.
func NewHTTPLedgerClient(baseURL string, timeout time.Duration) *HTTPLedgerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPLedgerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Credit posts one settlement credit. Network errors and 5xx are
// transient; a definitive rejection from the gateway is terminal.
func (c *HTTPLedgerClient) Credit(ctx context.Context, req CreditRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.NewLedgerRejection("credit", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/credit", bytes.NewReader(body))
	if err != nil {
		return domain.NewLedgerRejection("credit", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.NewLedgerTransient("credit", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return domain.NewLedgerTransient("credit", fmt.Errorf("gateway status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return domain.NewLedgerTransient("credit", err)
	}

	var parsed creditResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return domain.NewLedgerTransient("credit", fmt.Errorf("malformed response: %w", err))
	}

	switch parsed.Status {
	case "confirmed":
		return nil
	case "rejected":
		return domain.NewLedgerRejection("credit", errors.New(parsed.Reason))
	default:
		return domain.NewLedgerTransient("credit", fmt.Errorf("unknown status %q", parsed.Status))
	}
}
