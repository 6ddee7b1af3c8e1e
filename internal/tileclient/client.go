package tileclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"

	"tripmap-offline/internal/geotile"
)

const (
	// User agent sent with every tile request
	UserAgent = "tripmap-offline/1.0"

	DefaultTimeout = 15 * time.Second
)

// Fetcher retrieves tile blobs from the remote tile endpoint. RequestKey is the
// request signature the blob is cached under.
type Fetcher interface {
	RequestKey(c geotile.Coordinate) string
	FetchTile(ctx context.Context, c geotile.Coordinate) ([]byte, error)
}

// Replaces the access token in URLs that end up in errors
const redactedToken = "REDACTED"

// StatusError is returned for any non-2xx tile response. URL has the token redacted.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tile request failed with status: %d", e.StatusCode)
}

// Client fetches tiles from a templated URL such as
// https://api.example.com/tiles/{z}/{x}/{y}.png?access_token={token}
type Client struct {
	template   *fasttemplate.Template
	token      string
	httpClient *http.Client
}

// New parses the URL template. Supported placeholders: {z} {x} {y} {token}.
func New(urlTemplate, token string, timeout time.Duration) (*Client, error) {
	if urlTemplate == "" {
		return nil, fmt.Errorf("tile url template is empty")
	}
	for _, p := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(urlTemplate, p) {
			return nil, fmt.Errorf("tile url template %q is missing %s", urlTemplate, p)
		}
	}

	tmpl, err := fasttemplate.NewTemplate(urlTemplate, "{", "}")
	if err != nil {
		return nil, fmt.Errorf("invalid tile url template: %w", err)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Use http.ProxyFromEnvironment to respect system proxy settings
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}

	return &Client{
		template: tmpl,
		token:    token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// RequestKey renders the full tile URL, token included
func (c *Client) RequestKey(coord geotile.Coordinate) string {
	return c.template.ExecuteString(map[string]interface{}{
		"z":     strconv.Itoa(coord.Zoom),
		"x":     strconv.Itoa(coord.X),
		"y":     strconv.Itoa(coord.Y),
		"token": c.token,
	})
}

// redact masks the access token in s
func (c *Client) redact(s string) string {
	if c.token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.token, redactedToken)
}

// FetchTile downloads one tile. Non-2xx responses are errors. Returned
// errors never carry the access token.
func (c *Client) FetchTile(ctx context.Context, coord geotile.Coordinate) ([]byte, error) {
	tileURL := c.RequestKey(coord)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = c.redact(urlErr.URL)
		}
		return nil, fmt.Errorf("failed to fetch tile %s: %w", coord, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: c.redact(tileURL)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %s: %w", coord, err)
	}
	return data, nil
}
