// Package flaresolverr fetches Cloudflare-protected player pages through a
// FlareSolverr instance.
package flaresolverr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"manifest-extractor-go/pkg/interfaces"
	"manifest-extractor-go/pkg/logging"
)

// ErrNotConfigured is returned by Solve when no FlareSolverr URL is set.
var ErrNotConfigured = errors.New("flaresolverr not configured")

// Cookie is a cookie set while solving the challenge.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
}

// Solution is the page as seen by FlareSolverr's browser.
type Solution struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	Response  string   `json:"response"`
	Cookies   []Cookie `json:"cookies"`
	UserAgent string   `json:"userAgent"`
}

type response struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Solution Solution `json:"solution"`
}

type request struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int    `json:"maxTimeout"`
}

// Client talks to the FlareSolverr v1 API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    interfaces.HTTPClient
	log     *logging.Logger
}

// NewClient creates a client for the instance at baseURL. A nil httpClient
// uses a plain http.Client sized for the solve timeout.
func NewClient(baseURL string, timeout time.Duration, httpClient interfaces.HTTPClient, log *logging.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout + 10*time.Second}
	}
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    httpClient,
		log:     log.WithComponent("flaresolverr"),
	}
}

// IsConfigured reports whether a FlareSolverr URL is set.
func (c *Client) IsConfigured() bool {
	return c != nil && c.baseURL != ""
}

// Solve loads targetURL in FlareSolverr and returns the rendered page.
func (c *Client) Solve(ctx context.Context, targetURL string) (*Solution, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(request{
		Cmd:        "request.get",
		URL:        targetURL,
		MaxTimeout: int(c.timeout.Milliseconds()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug("solving via flaresolverr", "url", targetURL)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("flaresolverr returned status %d", resp.StatusCode)
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Status != "ok" {
		return nil, fmt.Errorf("flaresolverr error: %s", out.Message)
	}

	c.log.Debug("flaresolverr solved",
		"url", targetURL,
		"status", out.Solution.Status,
		"cookies", len(out.Solution.Cookies),
		"response_length", len(out.Solution.Response))

	return &out.Solution, nil
}
