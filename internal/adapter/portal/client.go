// Package portal is an HTTP client for the surrounding portal services: the
// business partner pool, the managed identity wallet, the application
// registry and the self-description factory. It satisfies the executor
// gateway interfaces.
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout is the default timeout for HTTP requests.
const DefaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	// BaseURL is the base URL of the portal API (e.g. "http://localhost:9000").
	BaseURL string
	// Timeout is the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Client calls the portal services over HTTP. Existence checks map a 404
// response to false instead of an error so executors can make their
// idempotency decisions from the answer.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a portal client for the given configuration.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// HasBusinessPartnerNumber reports whether the pool already assigned a
// business partner number for the process.
func (c *Client) HasBusinessPartnerNumber(ctx context.Context, processID string) (bool, error) {
	return c.exists(ctx, "/api/business-partners/"+processID)
}

// PushBusinessPartnerNumber requests assignment of a business partner number.
func (c *Client) PushBusinessPartnerNumber(ctx context.Context, processID string) error {
	return c.post(ctx, "/api/business-partners/"+processID)
}

// WalletExists reports whether an identity wallet was already created for the
// process.
func (c *Client) WalletExists(ctx context.Context, processID string) (bool, error) {
	return c.exists(ctx, "/api/wallets/"+processID)
}

// CreateWallet creates the managed identity wallet for the process.
func (c *Client) CreateWallet(ctx context.Context, processID string) error {
	return c.post(ctx, "/api/wallets/"+processID)
}

// Activate flips the partner's application to active in the portal registry.
func (c *Client) Activate(ctx context.Context, processID string) error {
	return c.post(ctx, "/api/applications/"+processID+"/activate")
}

// Requested reports whether a company self-description was already requested
// for the process.
func (c *Client) Requested(ctx context.Context, processID string) (bool, error) {
	return c.exists(ctx, "/api/self-descriptions/"+processID)
}

// RequestCompanySelfDescription asks the SD factory to build the company
// self-description. The factory answers through a callback, not this call.
func (c *Client) RequestCompanySelfDescription(ctx context.Context, processID string) error {
	return c.post(ctx, "/api/self-descriptions/"+processID)
}

func (c *Client) exists(ctx context.Context, path string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("GET %s: %w", path, err)
	}
	defer drainAndClose(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	default:
		return false, fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

// drainAndClose reads the rest of the body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
