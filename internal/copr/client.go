package copr

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

// maxLogBytes bounds how much of a build log is read into memory.
const maxLogBytes = 64 << 20

// Client is a high-level client for a Copr-compatible build farm.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
}

// New creates a new Client for the given farm instance. The token is sent
// as an Authorization header on every request; it may be empty for
// read-only use against public projects.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("copr: baseURL is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout sets a timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		cfg.timeout = d
		return nil
	}
}

// Project returns a scope for operations on one project.
func (c *Client) Project(owner, name string) *ProjectScope {
	return &ProjectScope{client: c, owner: owner, name: name}
}

// doJSON executes an HTTP request and decodes the JSON response into dst.
// If the response has an error status, it returns an *APIError.
func (c *Client) doJSON(ctx context.Context, method, url, operation string, body io.Reader, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", operation, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.DebugContext(ctx, "farm request", "operation", operation, "method", method, "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", operation, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "farm response", "operation", operation, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		var errRS errorResponse
		if json.Unmarshal(respBody, &errRS) == nil && errRS.Error != "" {
			return newAPIError(operation, resp.StatusCode, errRS.Error)
		}
		msg := string(respBody)
		if msg == "" {
			msg = resp.Status
		}
		return newAPIError(operation, resp.StatusCode, msg)
	}

	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("%s: decode response: %w", operation, err)
		}
	}
	return nil
}

// ListChroots returns the sorted names of every mock chroot the farm offers.
func (c *Client) ListChroots(ctx context.Context) ([]string, error) {
	u := fmt.Sprintf("%s/api_3/mock-chroots/list", c.baseURL)

	chroots := map[string]string{}
	if err := c.doJSON(ctx, "GET", u, "list chroots", nil, &chroots); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(chroots))
	for name := range chroots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CancelBuild asks the farm to cancel a build. Canceling a build that
// already reached a terminal state is not an error farm-side.
func (c *Client) CancelBuild(ctx context.Context, buildID int64) error {
	u := fmt.Sprintf("%s/api_3/build/cancel/%d", c.baseURL, buildID)
	return c.doJSON(ctx, "PUT", u, "cancel build", nil, nil)
}

// FetchLog downloads a build log from its absolute URL. Gzip-compressed
// logs (the farm stores them as .log.gz) are decompressed transparently.
// Reads are capped at maxLogBytes.
func (c *Client) FetchLog(ctx context.Context, logURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", logURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch log: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch log: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", newAPIError("fetch log", resp.StatusCode, logURL)
	}

	var reader io.Reader = resp.Body
	if strings.HasSuffix(req.URL.Path, ".gz") || resp.Header.Get("Content-Type") == "application/gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return "", fmt.Errorf("fetch log: gunzip: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	data, err := io.ReadAll(io.LimitReader(reader, maxLogBytes))
	if err != nil {
		return "", fmt.Errorf("fetch log: read body: %w", err)
	}
	return string(data), nil
}

// ReadToken reads the first line of a token file and returns it trimmed.
func ReadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	return line, nil
}
