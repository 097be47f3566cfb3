// Package upstream provides the HTTP client for the ad-platform and e-commerce APIs.
//
// Every call enforces a client-side deadline and classifies failures into
// rate-limited, timeout and generic upstream errors so the fetch cascade can
// decide between retrying and falling back.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/adlens-io/adlens/internal/config"
)

type (
	// Client issues authenticated JSON requests against one upstream API.
	Client struct {
		baseURL      string
		httpClient   *http.Client
		tokens       TokenProvider
		limiter      *rate.Limiter
		deadline     time.Duration
		maxPages     int
		maxBodyBytes int64
		logger       *slog.Logger
	}

	// ClientOption configures optional Client behavior.
	ClientOption func(*Client)

	// Request describes one logical upstream query.
	Request struct {
		StoreID  string
		Path     string
		Query    url.Values
		Deadline time.Duration // Overrides the client default when positive
	}

	envelope struct {
		Data   json.RawMessage `json:"data"`
		Paging *struct {
			Cursors struct {
				After string `json:"after"`
			} `json:"cursors"`
			Next string `json:"next"`
		} `json:"paging"`
	}

	errorBody struct {
		Error *struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// NewClient creates an upstream client from cfg.
func NewClient(cfg *Config, tokens TokenProvider, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if tokens == nil {
		tokens = NewStaticTokens(nil)
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   &http.Client{},
		tokens:       tokens,
		deadline:     cfg.RequestDeadline,
		maxPages:     max(cfg.MaxPages, 1),
		maxBodyBytes: cfg.MaxBodyBytes,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	if c.maxBodyBytes <= 0 {
		c.maxBodyBytes = defaultMaxBodyBytes
	}

	if cfg.RequestsPerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), max(cfg.Burst, 1))
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Do performs a single request and returns the raw JSON body.
func (c *Client) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	body, _, err := c.do(ctx, req)

	return body, err
}

// List follows continuation cursors and returns the concatenated "data" items.
// At most maxPages pages are requested; maxPages <= 0 uses the client default.
func (c *Client) List(ctx context.Context, req Request, maxPages int) ([]json.RawMessage, error) {
	if maxPages <= 0 {
		maxPages = c.maxPages
	}

	query := maps.Clone(req.Query)
	if query == nil {
		query = url.Values{}
	}

	var items []json.RawMessage

	for page := 0; page < maxPages; page++ {
		pageReq := req
		pageReq.Query = query

		body, _, err := c.do(ctx, pageReq)
		if err != nil {
			return nil, err
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, &Error{Kind: ErrUpstream, Path: req.Path, Message: "malformed page", Err: err}
		}

		var pageItems []json.RawMessage
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &pageItems); err != nil {
				return nil, &Error{Kind: ErrUpstream, Path: req.Path, Message: "data is not a list", Err: err}
			}
		}

		items = append(items, pageItems...)

		if env.Paging == nil || env.Paging.Next == "" || env.Paging.Cursors.After == "" {
			return items, nil
		}

		query = maps.Clone(query)
		query.Set("after", env.Paging.Cursors.After)
	}

	c.logger.Debug("Upstream list truncated at page bound",
		slog.String("path", req.Path),
		slog.Int("max_pages", maxPages),
		slog.Int("items", len(items)))

	return items, nil
}

func (c *Client) do(ctx context.Context, req Request) (json.RawMessage, int, error) {
	deadline := c.deadline
	if req.Deadline > 0 {
		deadline = req.Deadline
	}

	reqCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	token, err := c.tokens.AccessToken(reqCtx, req.StoreID)
	if err != nil {
		return nil, 0, err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(reqCtx); err != nil {
			return nil, 0, c.contextError(ctx, req.Path, err)
		}
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, &Error{Kind: ErrUpstream, Path: req.Path, Err: err}
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, 0, c.contextError(ctx, req.Path, err)
		}

		return nil, 0, &Error{Kind: ErrUpstream, Path: req.Path, Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, resp.StatusCode, c.contextError(ctx, req.Path, err)
		}

		return nil, resp.StatusCode, &Error{Kind: ErrUpstream, Path: req.Path, Status: resp.StatusCode, Err: err}
	}

	c.logger.Debug("Upstream request completed",
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, classifyResponse(req.Path, resp, body)
	}

	if !json.Valid(body) {
		return nil, resp.StatusCode, &Error{
			Kind: ErrUpstream, Path: req.Path, Status: resp.StatusCode, Message: "response is not JSON",
		}
	}

	// Some upstream errors arrive with a 200 status.
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != nil {
		return nil, resp.StatusCode, classifyResponse(req.Path, resp, body)
	}

	return body, resp.StatusCode, nil
}

// contextError maps a context failure to ErrTimeout when the client's own deadline
// fired and passes caller cancellation through unchanged.
func (c *Client) contextError(parent context.Context, path string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	return &Error{Kind: ErrTimeout, Path: path, Err: err}
}

func classifyResponse(path string, resp *http.Response, body []byte) error {
	e := &Error{
		Kind:       ErrUpstream,
		Path:       path,
		Status:     resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header),
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != nil {
		e.Code = eb.Error.Code
		e.Message = eb.Error.Message
	}

	_, throttled := rateLimitCodes[e.Code]

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || throttled:
		e.Kind = ErrRateLimited
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		e.Kind = ErrTimeout
	}

	return e
}

func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}

	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}

	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}

// RetryAfter returns the server-suggested wait carried by err, or 0.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}

	return 0
}
