package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultBaseURL is the production API root, including the drive path all
// item operations hang off.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0/me/drive/"

const userAgent = "graphdrive/0.1"

// Metadata calls get an overall deadline; transfer calls only bound the
// connection setup and response headers, since chunk and segment bodies
// can be tens of megabytes and legitimately take minutes.
const (
	metaTimeout          = 30 * time.Second
	transferDialTimeout  = 10 * time.Second
	transferHeaderWindow = 3 * time.Minute
)

// Client talks to the storage API. It holds two HTTP clients: one with a
// short overall timeout for metadata calls and one with generous read
// allowances for chunk and segment transfers. Every authorized request
// goes through the TokenSource, which serves as the refresh-before-expiry
// gate.
type Client struct {
	baseURL  string
	http     *http.Client // metadata operations
	transfer *http.Client // chunk PUTs and segment GETs
	tokens   TokenSource
	logger   *slog.Logger

	// sleepFunc waits between copy-monitor polls. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error

	drive *DriveInfo // cached drive details
}

// NewClient creates a client. meta and transfer may be nil, in which case
// clients from NewHTTPClients are used.
func NewClient(baseURL string, meta, transfer *http.Client, tokens TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if meta == nil || transfer == nil {
		m, t := NewHTTPClients()
		if meta == nil {
			meta = m
		}

		if transfer == nil {
			transfer = t
		}
	}

	return &Client{
		baseURL:   baseURL,
		http:      meta,
		transfer:  transfer,
		tokens:    tokens,
		logger:    logger,
		sleepFunc: sleepContext,
	}
}

// NewHTTPClients builds the metadata/transfer client pair with separate
// connect and read timeouts.
func NewHTTPClients() (meta, transfer *http.Client) {
	transferTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: transferDialTimeout,
		}).DialContext,
		ResponseHeaderTimeout: transferHeaderWindow,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{Timeout: metaTimeout}, &http.Client{Transport: transferTransport}
}

// Connect creates a token manager and client, performs the initial token
// acquisition (exactly one exchange), and fetches the drive details.
func Connect(
	ctx context.Context, cred Credential, refreshToken string, prompt Prompter, logger *slog.Logger,
) (*Client, *TokenManager, error) {
	meta, transfer := NewHTTPClients()

	tm, err := NewTokenManager(cred, refreshToken, prompt, meta, logger)
	if err != nil {
		return nil, nil, err
	}

	if _, err := tm.Token(); err != nil {
		return nil, nil, err
	}

	c := NewClient(DefaultBaseURL, meta, transfer, tm, logger)
	if _, err := c.DriveDetails(ctx, false); err != nil {
		return nil, nil, err
	}

	return c, tm, nil
}

// do executes an authorized request against the API. The path is appended
// to the client's base URL. There is no automatic retry: a single failure
// aborts the operation so the caller can clean up.
func (c *Client) do(
	ctx context.Context, httpClient *http.Client,
	method, path, contentType string, body io.Reader,
) (*http.Response, error) {
	req, err := c.authorizedRequest(ctx, method, c.baseURL+path, contentType, body)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("graph: request cancelled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("graph: %s %s failed: %w", method, path, err)
	}

	c.logger.Debug("request complete",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	return resp, nil
}

// authorizedRequest builds an HTTP request with a fresh bearer token.
func (c *Client) authorizedRequest(
	ctx context.Context, method, url, contentType string, body io.Reader,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("graph: creating request: %w", err)
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("graph: obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

// sleepContext waits for the duration or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
