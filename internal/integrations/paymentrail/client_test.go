package paymentrail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"sana/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.RailConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		RPS:     1000,
		Burst:   1000,
	})
}

func TestCreateTransferSuccess(t *testing.T) {
	var gotIdempotencyKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"tr_42","status":"succeeded"}`))
	})

	result, err := client.CreateTransfer(context.Background(), "501", 8000, "idem-123")
	require.NoError(t, err)
	assert.Equal(t, "tr_42", result.ID)
	assert.Equal(t, "idem-123", gotIdempotencyKey)
}

func TestCreateTransferServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CreateTransfer(context.Background(), "501", 8000, "idem-123")
	assert.ErrorIs(t, err, ErrTransient)
}

func TestCreateTransferRejectionIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"account frozen"}`))
	})

	_, err := client.CreateTransfer(context.Background(), "501", 8000, "idem-123")
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestCreateTransferRateLimitedIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.CreateTransfer(context.Background(), "501", 8000, "idem-123")
	assert.ErrorIs(t, err, ErrTransient)
}
