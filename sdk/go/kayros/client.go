// Package kayros is a thin HTTP client for the Kayros proof authority: it
// submits digests for timestamped attestation and looks up stored records.
package kayros

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuip/provable-sdk/pkg/digest"
	"github.com/kuip/provable-sdk/pkg/logger"
)

const (
	// DefaultBaseURL is the production Kayros host.
	DefaultBaseURL = "https://kayros.provable.dev"

	// SubmitRoute accepts a single digest for attestation.
	SubmitRoute = "/api/grpc/single-hash"

	// LookupRoute returns the stored record for a digest.
	LookupRoute = "/api/database/record-by-hash"

	// DataType is the type tag agreed with the authority ("provable_forms"
	// right padded to 32 bytes). It is sent verbatim with every submission.
	DataType = "70726f7661626c655f666f726d73000000000000000000000000000000000000"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

const (
	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 8 << 20
	// maxDrainBytes bounds what is discarded after reading so the
	// connection can be reused; larger leftovers just close it.
	maxDrainBytes = 64 << 10
)

// Config holds the fixed protocol settings of an authority deployment. It is
// copied into the client at construction and never mutated afterwards.
type Config struct {
	BaseURL     string
	SubmitRoute string
	LookupRoute string
	DataType    string
}

// DefaultConfig returns the settings of the public Kayros deployment.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		SubmitRoute: SubmitRoute,
		LookupRoute: LookupRoute,
		DataType:    DataType,
	}
}

// Observer receives one callback per completed round trip. status is zero
// when no HTTP response was received.
type Observer func(route, method string, status int, duration time.Duration)

// Option customises a Client.
type Option func(*Client)

// WithObserver installs a round-trip observer, typically a metrics recorder.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// WithLogger overrides the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client wraps the HTTP interactions with the Kayros proof authority.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	observer   Observer
	logger     *slog.Logger
	userAgent  string
	maxBody    int64
}

// NewClient instantiates a client for the authority described by cfg. Empty
// fields fall back to DefaultConfig. When httpClient is nil, a default client
// with a sensible timeout is used.
func NewClient(cfg Config, httpClient *http.Client, opts ...Option) (*Client, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.SubmitRoute == "" {
		cfg.SubmitRoute = defaults.SubmitRoute
	}
	if cfg.LookupRoute == "" {
		cfg.LookupRoute = defaults.LookupRoute
	}
	if cfg.DataType == "" {
		cfg.DataType = defaults.DataType
	}
	if !digest.IsHex32(cfg.DataType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDataType, cfg.DataType)
	}

	parsed, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("kayros: invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("kayros: base url %q must include scheme and host", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    parsed,
		httpClient: httpClient,
		logger:     logger.Named("kayros"),
		userAgent:  "provable-sdk-go",
		maxBody:    maxResponseBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Config returns the protocol settings the client was built with.
func (c *Client) Config() Config {
	return c.cfg
}

// Submit sends a digest to the authority for attestation. The configured
// data type tag accompanies it; it cannot be changed per call.
func (c *Client) Submit(ctx context.Context, d digest.Digest) (*SubmitResponse, error) {
	req := SubmitRequest{DataItem: string(d), DataType: c.cfg.DataType}
	var resp SubmitResponse
	raw, err := c.post(ctx, "submit", c.cfg.SubmitRoute, req, &resp)
	if err != nil {
		return nil, err
	}
	resp.Raw = raw
	return &resp, nil
}

// FetchRecord looks up the record the authority holds for d. A non-2xx
// answer, including 404, is returned as *TransportError; use IsNotFound to
// tell the not-found case apart.
func (c *Client) FetchRecord(ctx context.Context, d digest.Digest) (*RecordResponse, error) {
	var resp RecordResponse
	raw, err := c.get(ctx, "fetch_record", c.cfg.LookupRoute, url.Values{"hash_item": {string(d)}}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Raw = raw
	return &resp, nil
}

func (c *Client) post(ctx context.Context, op, route string, payload any, out any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, route, nil, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	return c.do(req, op, route, out)
}

func (c *Client) get(ctx context.Context, op, route string, query url.Values, out any) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, route, query, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, op, route, out)
}

func (c *Client) newRequest(ctx context.Context, method, route string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, route)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op, route string, out any) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(req, route, 0, time.Since(start))
		return nil, &TransportError{Op: op, Method: req.Method, URL: req.URL.String(), Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	c.observe(req, route, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &TransportError{
			Op: op, Method: req.Method, URL: req.URL.String(),
			StatusCode: resp.StatusCode, Status: resp.Status,
			Err: fmt.Errorf("read response: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Op: op, Method: req.Method, URL: req.URL.String(),
			StatusCode: resp.StatusCode, Status: resp.Status,
			Body: string(bytes.TrimSpace(data)),
		}
	}
	if int64(len(data)) > c.maxBody {
		return nil, &TransportError{
			Op: op, Method: req.Method, URL: req.URL.String(),
			StatusCode: resp.StatusCode, Status: resp.Status,
			Err: fmt.Errorf("%w of %d bytes", ErrResponseTooLarge, c.maxBody),
		}
	}

	if out == nil {
		return data, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, &TransportError{
			Op: op, Method: req.Method, URL: req.URL.String(),
			StatusCode: resp.StatusCode, Status: resp.Status,
			Body: string(bytes.TrimSpace(data)),
			Err:  fmt.Errorf("decode response: %w", err),
		}
	}
	return data, nil
}

func (c *Client) observe(req *http.Request, route string, status int, d time.Duration) {
	if c.observer != nil {
		c.observer(route, req.Method, status, d)
	}
	c.logger.Debug("authority round trip",
		slog.String("route", route),
		slog.String("method", req.Method),
		slog.Int("status", status),
		slog.Duration("duration", d),
		slog.String("request_id", req.Header.Get("X-Request-ID")),
	)
}

// IsNotFound reports whether err is the authority answering 404.
func IsNotFound(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode == http.StatusNotFound && te.Err == nil
	}
	return false
}
