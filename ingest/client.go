package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.jacobcolvin.com/pyroagent/capture"
	"go.jacobcolvin.com/pyroagent/folded"
	"go.jacobcolvin.com/pyroagent/version"
)

const (
	// DefaultSpyName identifies the profiler that produced the samples.
	DefaultSpyName = "gospy"
	// Format is the payload format sent to the endpoint.
	Format = "folded"
	// ContentType is the Content-Type of upload requests.
	ContentType = "binary/octet-stream"

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 1024
)

var (
	// ErrInvalidEndpoint indicates an endpoint URL that cannot be used.
	ErrInvalidEndpoint = errors.New("invalid endpoint")
	// ErrIngest indicates a failed upload. All errors returned by
	// [Client.Ingest] wrap it.
	ErrIngest = errors.New("ingest failed")
	// ErrUnexpectedStatus indicates the endpoint answered with a non-2xx
	// status.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Client uploads reports to an ingestion endpoint. It holds no per-upload
// state and is safe for concurrent use.
//
// Create instances with [NewClient].
type Client struct {
	httpClient *http.Client
	endpoint   *url.URL
	spyName    string
	userAgent  string
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for uploads. The default is
// [http.DefaultClient]; no timeout is added beyond the client's own.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithSpyName sets the spyName query parameter. The default is
// [DefaultSpyName].
func WithSpyName(name string) Option {
	return func(c *Client) {
		c.spyName = name
	}
}

// WithUserAgent sets the User-Agent header. The default is
// [version.UserAgent].
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a [Client] for the given base endpoint, such as
// "http://localhost:4040". The endpoint must be an absolute http or https
// URL.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidEndpoint, endpoint)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, endpoint)
	}

	c := &Client{
		httpClient: http.DefaultClient,
		endpoint:   u,
		spyName:    DefaultSpyName,
		userAgent:  version.UserAgent(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Endpoint returns the base endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// Ingest encodes report and uploads it under the series name. A report with
// an empty payload is skipped and reported as success.
func (c *Client) Ingest(ctx context.Context, report *capture.Report, name string) error {
	if report == nil {
		return nil
	}

	payload, err := folded.Marshal(report.Profile)
	if err != nil {
		return fmt.Errorf("%w: encoding report: %w", ErrIngest, err)
	}

	if len(payload) == 0 {
		return nil
	}

	req, err := c.newRequest(ctx, report, name, payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIngest, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIngest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return fmt.Errorf("%w: %w: %d: %s", ErrIngest, ErrUnexpectedStatus, resp.StatusCode, bytes.TrimSpace(body))
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}

// URL returns the upload URL for report under the series name.
func (c *Client) URL(report *capture.Report, name string) *url.URL {
	w := NewWindow(report.StartTime)

	q := url.Values{}
	q.Set("name", name)
	q.Set("from", strconv.FormatInt(w.From, 10))
	q.Set("until", strconv.FormatInt(w.Until, 10))
	q.Set("format", Format)
	q.Set("sampleRate", strconv.Itoa(report.SampleRateHz))
	q.Set("spyName", c.spyName)

	u := c.endpoint.JoinPath("ingest")
	u.RawQuery = q.Encode()

	return u
}

func (c *Client) newRequest(ctx context.Context, report *capture.Report, name string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(report, name).String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", ContentType)

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	return req, nil
}
