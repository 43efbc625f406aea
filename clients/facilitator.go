// Package clients holds clients for the services the gateway and facilitator talk to.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raid-guild/x402-gateway-go/types"
)

// DefaultFacilitatorTimeout bounds one call to a remote facilitator.
const DefaultFacilitatorTimeout = 30 * time.Second

// FacilitatorClient talks to a facilitator over HTTP.
type FacilitatorClient struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// NewFacilitatorClient creates a client for the facilitator at url.
func NewFacilitatorClient(url, apiKey string) *FacilitatorClient {
	return &FacilitatorClient{
		URL:        strings.TrimRight(url, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: DefaultFacilitatorTimeout},
	}
}

// Verify posts auth to {url}/verify. A non-2xx answer is reported as an invalid
// payment with reason "facilitator <status>".
func (c *FacilitatorClient) Verify(ctx context.Context, auth types.Authorization) (types.VerifyResponse, error) {
	var resp types.VerifyResponse
	status, err := c.post(ctx, "/verify", auth, &resp)
	if err != nil {
		return types.VerifyResponse{}, err
	}
	if status < 200 || status > 299 {
		return types.VerifyResponse{
			Valid:  false,
			Mode:   auth.Mode(),
			Reason: types.InvalidReason(fmt.Sprintf("facilitator %d", status)),
		}, nil
	}
	return resp, nil
}

// Settle posts auth to {url}/settle. Error statuses still decode the settle response
// so callers see the failure reason and any transaction hash.
func (c *FacilitatorClient) Settle(ctx context.Context, auth types.Authorization) (types.SettleResponse, error) {
	var resp types.SettleResponse
	status, err := c.post(ctx, "/settle", auth, &resp)
	if err != nil {
		return types.SettleResponse{}, err
	}
	if status < 200 || status > 299 {
		resp.Success = false
		if resp.Detail == "" {
			resp.Detail = fmt.Sprintf("facilitator %d", status)
		}
	}
	return resp, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("facilitator request: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, fmt.Errorf("read response: %w", err)
	}

	// Error bodies are best effort
	if err := json.Unmarshal(data, out); err != nil && res.StatusCode >= 200 && res.StatusCode <= 299 {
		return res.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return res.StatusCode, nil
}
