package paymentrail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"sana/internal/config"
	"sana/internal/domain"

	"golang.org/x/time/rate"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, 5xx, 429.
	ErrTransient = errors.New("payment rail temporarily unavailable")

	// ErrPermanent marks failures that will not succeed on retry.
	ErrPermanent = errors.New("payment rail rejected the transfer")
)

// Client calls the external transfer provider. Every request carries an
// idempotency key, so a retried call after a timeout never double-pays.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg config.RailConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type transferRequest struct {
	Account     string `json:"account"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

type transferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CreateTransfer submits one disbursement. The provider deduplicates on the
// Idempotency-Key header, so delivery retries are safe.
func (c *Client) CreateTransfer(ctx context.Context, account string, amountCents int64, idempotencyKey string) (*domain.TransferResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(transferRequest{
		Account:     account,
		AmountCents: amountCents,
		Currency:    "usd",
	})
	if err != nil {
		return nil, fmt.Errorf("encode transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Сетевые ошибки и таймауты считаем временными
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		// Продолжаем обработку
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransient, resp.StatusCode, string(raw))
	default:
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrPermanent, resp.StatusCode, string(raw))
	}

	var payload transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decode transfer response: %v", ErrTransient, err)
	}
	if payload.ID == "" {
		return nil, fmt.Errorf("%w: empty transfer id: %s", ErrPermanent, payload.Error)
	}

	return &domain.TransferResult{ID: payload.ID, Status: payload.Status}, nil
}
