package reconnect

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Prober performs one lightweight request against the remote service
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) error

// Probe implements Prober
func (f ProberFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// HTTPProber issues a GET; any 2xx response counts as reachable
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// Probe implements Prober
func (p *HTTPProber) Probe(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe failed with status: %d", resp.StatusCode)
	}
	return nil
}
