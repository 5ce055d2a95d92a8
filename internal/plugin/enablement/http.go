package enablement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SyncRequest is the body POSTed to the companion service.
type SyncRequest struct {
	Plugins []PluginState `json:"plugins"`
}

// HTTPSyncer POSTs the plugin list to a companion endpoint. The response
// body is ignored; any non-2xx status is reported as an error.
type HTTPSyncer struct {
	URL    string
	Client *http.Client
}

// NewHTTPSyncer creates a syncer for url with the given request timeout.
func NewHTTPSyncer(url string, timeout time.Duration) *HTTPSyncer {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	return &HTTPSyncer{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Sync implements Syncer.
func (h *HTTPSyncer) Sync(ctx context.Context, states []PluginState) error {
	if states == nil {
		states = []PluginState{}
	}
	body, err := json.Marshal(SyncRequest{Plugins: states})
	if err != nil {
		return fmt.Errorf("encode sync request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sync request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sync endpoint returned HTTP %d", resp.StatusCode)
	}
	return nil
}
