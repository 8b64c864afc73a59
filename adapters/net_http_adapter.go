package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NetHTTPAdapter is the standard delivery adapter implementation using
// the net/http package.
type NetHTTPAdapter struct {
	client *http.Client
}

// Ensure NetHTTPAdapter implements DeliveryAdapter interface
var _ DeliveryAdapter = (*NetHTTPAdapter)(nil)

// NewNetHTTPAdapter creates a new NetHTTPAdapter instance.
func NewNetHTTPAdapter() DeliveryAdapter {
	return &NetHTTPAdapter{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the payload as JSON to the endpoint with the given headers.
func (h *NetHTTPAdapter) Send(endpoint string, payload *QueuePayload, headers map[string]string) (*DeliveryResult, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return &DeliveryResult{
		Status: resp.StatusCode,
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
	}, nil
}
