// Package client provides the Command Center REST API client.
//
// # Layers
//
//   - Transport: raw Get/Post returning a status code and body. HTTPTransport
//     is the production implementation; tests substitute a fake.
//   - API: typed operations built on a Transport.
//
// # Operations
//
//   - ServerInfo: Resolve the target server version
//   - ListControllers: Fetch the controller inventory
//   - CreateUpgradeTask: Schedule an upgrade of one controller
//   - GetUpgradeTask: Poll an upgrade task
//   - ListUpgradeTasks: Fetch all upgrade tasks
//   - GetTaskController: Resolve the controller an upgrade task belongs to
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultRequestTimeout bounds every request.
const DefaultRequestTimeout = 10 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 8 << 20

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport issues requests against the API base URL. Paths are relative
// to the base; an empty path addresses the base itself.
type Transport interface {
	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string, body any) (*Response, error)
}

// Config for the HTTP transport.
type Config struct {
	BaseURL   string
	AuthToken string

	// RequestTimeout bounds each request (default: 10s)
	RequestTimeout time.Duration

	// RateLimit is requests per second (default: 10, negative disables)
	RateLimit float64

	// RequestID is sent as X-Request-ID on every request (default: random UUID)
	RequestID string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// HTTPTransport talks to the server over HTTP(S).
type HTTPTransport struct {
	baseURL     string
	authToken   string
	requestID   string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewHTTPTransport creates a new HTTP transport.
func NewHTTPTransport(cfg Config) *HTTPTransport {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	switch {
	case cfg.RateLimit > 0:
		limit = rate.Limit(cfg.RateLimit)
	case cfg.RateLimit == 0:
		limit = rate.Limit(10)
	}

	requestID := cfg.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPTransport{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		authToken:   cfg.AuthToken,
		requestID:   requestID,
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(limit, 1),
		logger:      logger.With("component", "client"),
	}
}

// Get performs a GET request.
func (t *HTTPTransport) Get(ctx context.Context, path string) (*Response, error) {
	return t.doRequest(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (t *HTTPTransport) Post(ctx context.Context, path string, body any) (*Response, error) {
	return t.doRequest(ctx, http.MethodPost, path, body)
}

// doRequest performs an HTTP request with standard headers.
func (t *HTTPTransport) doRequest(ctx context.Context, method, path string, body any) (*Response, error) {
	if err := t.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ctrlupgrade/1.0")
	req.Header.Set("X-Request-ID", t.requestID)
	if t.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.authToken)
	}

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Method: method, Path: path, Err: err}
		}
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Method: method, Path: path, Err: err}
		}
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	t.logger.Debug("API request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
