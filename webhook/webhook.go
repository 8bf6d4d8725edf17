// Package webhook delivers inbound messages to the operator's HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Payload is the JSON body posted for every inbound message.
type Payload struct {
	ID                string    `json:"id"`
	From              string    `json:"from"`
	Text              string    `json:"text"`
	ModemTimestamp    string    `json:"modemTimestamp"`
	GatewayReceivedAt time.Time `json:"gatewayReceivedAt"`
	OriginalIndex     int       `json:"originalIndex"`
	ModemMemory       string    `json:"modemMemory"`
}

// Client posts payloads to a single configured URL. Any non-2xx status is a
// delivery failure; retries are the scheduler's responsibility, not the
// client's.
type Client struct {
	url  string
	http *http.Client
}

// NewClient builds a webhook client. httpClient may be nil, in which case a
// client with a 30 second timeout is used.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{url: url, http: httpClient}
}

// Deliver posts one payload. A nil error means the endpoint acknowledged
// with a 2xx status.
func (c *Client) Deliver(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("webhook: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post to %s: %w", c.url, err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: endpoint returned %s", resp.Status)
	}
	return nil
}
