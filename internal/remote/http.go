package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// RetryConfig bounds the rate-limit retry loop shared by all adapters.
type RetryConfig struct {
	// MaxRetries is how many times a rate-limited call is retried
	// before failing with *RateLimitError.
	MaxRetries int

	// BaseDelay seeds the exponential backoff; it doubles per attempt
	// unless the response carries a Retry-After header, which overrides
	// the computed delay for the next attempt only.
	BaseDelay time.Duration
}

// DefaultRetryConfig returns the standard retry bounds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
	}
}

// Options configures adapter construction.
type Options struct {
	// BaseURL overrides the provider's public API endpoint.
	// Used for self-hosted instances and tests.
	BaseURL string

	// HTTPClient overrides the transport. Nil uses a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// Retry bounds the rate-limit retry loop. Zero value uses
	// DefaultRetryConfig.
	Retry RetryConfig

	// Logger for request activity. Nil uses a stderr logger.
	Logger *log.Logger
}

// httpClient executes provider requests with rate-limit-aware retry.
type httpClient struct {
	client *http.Client
	retry  RetryConfig
	logger *log.Logger

	// retryForbidden enables retrying 403 responses, for providers
	// that overload that status for quota exhaustion (GitHub).
	retryForbidden bool

	// scopesHeader names the response header carrying the token's
	// granted scopes, when the provider reports them.
	scopesHeader string

	// sleep is swappable so tests can observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

func newHTTPClient(opts Options, retryForbidden bool, scopesHeader string) *httpClient {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	retry := opts.Retry
	if retry.MaxRetries == 0 {
		retry.MaxRetries = DefaultRetryConfig().MaxRetries
	}
	if retry.BaseDelay == 0 {
		retry.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &httpClient{
		client:         client,
		retry:          retry,
		logger:         logger,
		retryForbidden: retryForbidden,
		scopesHeader:   scopesHeader,
		sleep:          sleepContext,
	}
}

// request is one provider call, rebuilt per retry attempt.
type request struct {
	method string
	url    string
	header http.Header
	body   []byte
}

// response is the raw provider reply; status mapping happens at the
// call sites, which know which statuses are expected.
type response struct {
	status int
	body   []byte
	header http.Header
}

// do executes the request, retrying rate-limit responses with
// exponential backoff. Any other status is returned to the caller as-is;
// transport failures are returned unwrapped.
func (c *httpClient) do(ctx context.Context, req request) (*response, error) {
	delay := c.retry.BaseDelay

	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, req)
		if err != nil {
			return nil, err
		}

		if !c.isRateLimited(resp.status) {
			return resp, nil
		}

		if attempt >= c.retry.MaxRetries {
			return nil, &RateLimitError{
				Message: providerMessage(resp.body),
				Scopes:  c.scopes(resp.header),
			}
		}

		wait := delay
		if ra := retryAfter(resp.header); ra > 0 {
			// Retry-After overrides the computed delay for this
			// attempt only; the exponential schedule keeps advancing.
			wait = ra
		}
		c.logger.Printf("rate limited (HTTP %d), retrying in %v (attempt %d/%d)",
			resp.status, wait, attempt+1, c.retry.MaxRetries)

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
		delay *= 2
	}
}

func (c *httpClient) send(ctx context.Context, req request) (*response, error) {
	var body *bytes.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	} else {
		body = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := readAllLimited(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &response{
		status: httpResp.StatusCode,
		body:   data,
		header: httpResp.Header,
	}, nil
}

func (c *httpClient) isRateLimited(status int) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return status == http.StatusForbidden && c.retryForbidden
}

func (c *httpClient) scopes(h http.Header) string {
	if c.scopesHeader == "" {
		return ""
	}
	return h.Get(c.scopesHeader)
}

// retryAfter parses the Retry-After header (delay in seconds).
// Returns 0 when absent or unparseable.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// providerMessage extracts the human-readable error message from a
// provider response body. Both dialects report {"message": "..."}.
func providerMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// readAllLimited reads the response body with a sanity cap; contents API
// payloads for single files and listings stay far below it.
func readAllLimited(r io.Reader) ([]byte, error) {
	const maxBody = 16 << 20
	return io.ReadAll(io.LimitReader(r, maxBody))
}

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
