package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sana/internal/config"
)

// Client provisions video rooms for online sessions.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg config.RoomsConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createRoomRequest struct {
	BookingID int64 `json:"booking_id"`
}

type createRoomResponse struct {
	Handle string `json:"handle"`
}

func (c *Client) CreateRoom(ctx context.Context, bookingID int64) (string, error) {
	body, err := json.Marshal(createRoomRequest{BookingID: bookingID})
	if err != nil {
		return "", fmt.Errorf("encode room request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/rooms", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create room request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute room request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("room service status %d: %s", resp.StatusCode, string(raw))
	}

	var payload createRoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode room response: %w", err)
	}
	if payload.Handle == "" {
		return "", fmt.Errorf("room service returned empty handle")
	}
	return payload.Handle, nil
}

func (c *Client) CloseRoom(ctx context.Context, roomHandle string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/rooms/"+roomHandle, nil)
	if err != nil {
		return fmt.Errorf("create close request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute close request: %w", err)
	}
	defer resp.Body.Close()

	// Идемпотентно: уже закрытая комната не ошибка
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("room service status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
