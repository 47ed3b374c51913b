package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/moonlight/internal/daemon"
)

// adminClient talks to a running daemon's admin server
type adminClient struct {
	baseURL string
	http    *http.Client
}

func newAdminClient(baseURL string) *adminClient {
	return &adminClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *adminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s", method, path, body.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Pool fetches the pool snapshot
func (c *adminClient) Pool(ctx context.Context) (*daemon.PoolResponse, error) {
	var resp daemon.PoolResponse
	if err := c.do(ctx, http.MethodGet, "/pool", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Recycle retires one browser
func (c *adminClient) Recycle(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/pool/browsers/"+id+"/recycle", nil)
}
