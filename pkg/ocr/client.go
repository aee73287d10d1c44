// Package ocr provides a client for a remote OCR service that turns
// scanned fiscal documents into plain text.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/nexus-fiscal/fiscal-cli/internal/resilience"
)

// Client defines the OCR operations.
type Client interface {
	// Recognize submits a document payload and returns the extracted text.
	Recognize(ctx context.Context, name string, payload []byte) (*Result, error)
}

// Result is the parsed OCR response.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Pages      int     `json:"pages"`
}

// Option configures the OCR client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetry overrides the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a new OCR client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.nexus-ocr.dev",
		limiter: rate.NewLimiter(5, 5),
		retry:   resilience.DefaultRetryConfig(),
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	c.retry.InitialBackoff = time.Second
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("ocr", "recognize")
	}
	return c
}

type response struct {
	body   []byte
	status int
}

// post sends one attempt. Transport failures and retryable statuses
// come back as transient errors so the retry loop re-sends the
// payload; other statuses are returned for the caller to interpret.
func (c *httpClient) post(ctx context.Context, url string, payload []byte, header http.Header) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return response{}, eris.Wrap(err, "ocr: create request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, resilience.NewTransientError(err, 0)
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return response{}, eris.Wrap(readErr, "ocr: read response body")
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return response{}, resilience.NewTransientError(
			eris.Errorf("ocr: status %d: %s", resp.StatusCode, string(body)), resp.StatusCode)
	}
	return response{body: body, status: resp.StatusCode}, nil
}

func (c *httpClient) Recognize(ctx context.Context, name string, payload []byte) (*Result, error) {
	if len(payload) == 0 {
		return nil, eris.New("ocr: empty payload")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ocr: rate limit wait")
		}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)
	header.Set("Accept", "application/json")
	header.Set("Content-Type", "application/octet-stream")
	header.Set("X-Document-Name", name)

	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (response, error) {
		return c.post(ctx, c.baseURL+"/v1/recognize", payload, header)
	})
	if err != nil {
		return nil, eris.Wrap(err, "ocr: request failed")
	}
	if resp.status != http.StatusOK {
		return nil, eris.Errorf("ocr: unexpected status %d: %s", resp.status, string(resp.body))
	}

	var result Result
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, eris.Wrap(err, "ocr: unmarshal response")
	}
	return &result, nil
}
