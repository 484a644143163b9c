package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"lead-status-sync/internal/models"
)

// partnerTokenHeader authenticates requests to the partner API.
const partnerTokenHeader = "Caring-Partner"

// Client posts status updates to the partner REST endpoint. A 2xx response is
// the only success signal; anything else is a failure with a captured message.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewClient validates the endpoint configuration up front so a misconfigured
// poster fails at startup, not per record.
func NewClient(url, token string, timeout time.Duration) (*Client, error) {
	if url == "" || token == "" {
		return nil, errors.New("partner API url and token must be configured")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:   url,
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type statusUpdatePayload struct {
	LeadID    string `json:"lead_id"`
	Status    string `json:"status"`
	SubStatus string `json:"sub_status"`
	Notes     string `json:"notes"`
}

type partnerError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Post delivers one record. The returned error carries the partner's error
// body or status line for the record's error_message column.
func (c *Client) Post(ctx context.Context, rec models.StatusRecord) error {
	body, err := json.Marshal(statusUpdatePayload{
		LeadID:    rec.LeadID,
		Status:    rec.Status,
		SubStatus: rec.SubStatus,
		Notes:     rec.Notes,
	})
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(partnerTokenHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post status update: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var pe partnerError
	if err := json.Unmarshal(raw, &pe); err == nil {
		if pe.Error != "" {
			return fmt.Errorf("partner rejected update (status %d): %s", resp.StatusCode, pe.Error)
		}
		if pe.Message != "" {
			return fmt.Errorf("partner rejected update (status %d): %s", resp.StatusCode, pe.Message)
		}
	}
	return fmt.Errorf("partner rejected update: status %d", resp.StatusCode)
}
