// Package clients provides the authenticated upstream transport: request
// execution with adaptive throttling against the upstream quota and bounded
// retry of transient failures.
package clients

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/deskstream/pkg/deskerrors"
	"github.com/ajitpratap0/deskstream/pkg/json"
	"github.com/ajitpratap0/deskstream/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// TransportConfig configures a Transport.
type TransportConfig struct {
	// BaseURL is the API root, relative request paths are appended to it
	BaseURL  string
	Email    string
	APIToken string

	Retry RetryPolicy

	// LowWaterMark triggers a cool-down when the remaining quota drops below it
	LowWaterMark int
	Cooldown     time.Duration
	// DefaultRetryAfter applies to a 429 without a Retry-After header
	DefaultRetryAfter time.Duration
	// RemainingHeader carries the remaining request quota
	RemainingHeader string

	RequestTimeout time.Duration
	MaxIdleConns   int
	EnableHTTP2    bool
	UserAgent      string
}

// DefaultTransportConfig returns the production thresholds.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Retry:             DefaultRetryPolicy(),
		LowWaterMark:      10,
		Cooldown:          60 * time.Second,
		DefaultRetryAfter: 60 * time.Second,
		RemainingHeader:   "X-Rate-Limit-Remaining",
		RequestTimeout:    30 * time.Second,
		MaxIdleConns:      10,
		EnableHTTP2:       true,
		UserAgent:         "deskstream",
	}
}

// Transport executes authenticated requests against the upstream API.
// It is not safe to share between concurrent runs: the rate-limit state
// assumes one caller at a time.
type Transport struct {
	config     TransportConfig
	baseURL    string
	logger     *zap.Logger
	clock      Clock
	httpClient *http.Client
	transport  *http.Transport // nil when the client was injected
	state      *RateLimitState
}

// Option customises a Transport.
type Option func(*Transport)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(t *Transport) {
		t.clock = c
	}
}

// WithHTTPClient replaces the HTTP client built from the config.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
		t.transport = nil
	}
}

// NewTransport creates a transport. The underlying connections are released by Close.
func NewTransport(config TransportConfig, logger *zap.Logger, opts ...Option) (*Transport, error) {
	if config.BaseURL == "" {
		return nil, deskerrors.New(deskerrors.ErrorTypeConfig, "transport base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConfig, "invalid transport base URL")
	}
	if err := config.Retry.Validate(); err != nil {
		return nil, deskerrors.Wrap(err, deskerrors.ErrorTypeConfig, "invalid retry policy")
	}
	if config.RemainingHeader == "" {
		config.RemainingHeader = "X-Rate-Limit-Remaining"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Transport{
		config:  config,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  logger.With(zap.String("component", "transport")),
		clock:   RealClock(),
		state:   &RateLimitState{},
	}

	t.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: config.RequestTimeout,
		ForceAttemptHTTP2:     config.EnableHTTP2,
	}

	// Configure HTTP/2 if enabled
	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(t.transport); err != nil {
			t.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	t.httpClient = &http.Client{
		Transport: t.transport,
		Timeout:   config.RequestTimeout,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t, nil
}

// RateLimit exposes the quota state for diagnostics.
func (t *Transport) RateLimit() *RateLimitState {
	return t.state
}

// BaseURL returns the API root without a trailing slash.
func (t *Transport) BaseURL() string {
	return t.baseURL
}

// Close releases idle connections.
func (t *Transport) Close() error {
	if t.transport != nil {
		t.transport.CloseIdleConnections()
		return nil
	}
	t.httpClient.CloseIdleConnections()
	return nil
}

// Execute performs one logical request and decodes the JSON response into
// out. path is relative to the base URL or an absolute URL. params are added
// to the query string.
//
// Errors are typed:
//   - upstream: a non-retryable status, with the status code as a detail
//   - exhausted_retries: every attempt failed transiently, wrapping the last cause
//   - data: the 2xx body could not be decoded into out
func (t *Transport) Execute(ctx context.Context, method, path string, params url.Values, out any) error {
	reqURL, err := t.resolve(path, params)
	if err != nil {
		return err
	}

	maxAttempts := t.config.Retry.MaxAttempts
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Honour a reset deadline from an earlier Retry-After
		if wait := t.state.WaitFor(t.clock.Now()); wait > 0 {
			t.logger.Info("waiting for rate limit reset",
				zap.Duration("wait", wait),
				zap.String("url", reqURL))
			if err := t.sleep(ctx, wait, metrics.ThrottleProactive); err != nil {
				return err
			}
		}

		resp, err := t.send(ctx, method, reqURL)
		if err != nil {
			if ctx.Err() != nil {
				return deskerrors.Wrap(ctx.Err(), deskerrors.ErrorTypeInternal, "request cancelled")
			}
			metrics.UpstreamRequests.WithLabelValues(metrics.StatusClass(0)).Inc()
			lastErr = deskerrors.Wrap(err, deskerrors.ErrorTypeConnection, "request failed")
			if err := t.backoff(ctx, attempt, lastErr); err != nil {
				return err
			}
			continue
		}

		status := resp.StatusCode
		metrics.UpstreamRequests.WithLabelValues(metrics.StatusClass(status)).Inc()

		now := t.clock.Now()
		remaining, hasRemaining := parseRemaining(resp.Header, t.config.RemainingHeader)
		retryAfter, hasRetryAfter := parseRetryAfter(resp.Header, now)
		if status == http.StatusTooManyRequests && !hasRetryAfter {
			retryAfter = t.config.DefaultRetryAfter
		}
		t.state.Observe(now, remaining, hasRemaining, retryAfter)
		if hasRemaining {
			metrics.RateLimitRemaining.Set(float64(remaining))
		}

		// Preventive cool-down before the next request, on success or a retried
		// server error. A 429 already waits Retry-After and other statuses fail.
		if (status >= 200 && status < 300 || status >= 500) && t.state.Below(t.config.LowWaterMark) {
			t.logger.Warn("rate limit low, cooling down",
				zap.Int("remaining", remaining),
				zap.Duration("wait", t.config.Cooldown))
			if err := t.sleep(ctx, t.config.Cooldown, metrics.ThrottleCooldown); err != nil {
				drain(resp)
				return err
			}
		}

		switch {
		case status >= 200 && status < 300:
			defer drain(resp)
			if out == nil {
				return nil
			}
			if err := json.Decode(resp.Body, out); err != nil {
				return deskerrors.Wrap(err, deskerrors.ErrorTypeData, "failed to decode response").
					WithDetail("url", reqURL)
			}
			return nil

		case status == http.StatusTooManyRequests:
			drain(resp)
			lastErr = deskerrors.Newf(deskerrors.ErrorTypeRateLimit, "rate limited by upstream").
				WithDetail(deskerrors.DetailStatusCode, status)
			if attempt == maxAttempts {
				break
			}
			t.logger.Warn("rate limited, waiting",
				zap.Duration("retry_after", retryAfter),
				zap.Int("attempt", attempt))
			metrics.UpstreamRetries.WithLabelValues("rate_limit").Inc()
			if err := t.sleep(ctx, retryAfter, metrics.ThrottleRetryAfter); err != nil {
				return err
			}

		case status >= 500:
			body := snippet(resp)
			lastErr = deskerrors.Newf(deskerrors.ErrorTypeConnection, "upstream server error %d: %s", status, body).
				WithDetail(deskerrors.DetailStatusCode, status)
			if err := t.backoff(ctx, attempt, lastErr); err != nil {
				return err
			}

		default:
			body := snippet(resp)
			return deskerrors.Upstream(status, fmt.Sprintf("%s %s returned %d: %s", method, reqURL, status, body))
		}
	}

	return deskerrors.Wrap(lastErr, deskerrors.ErrorTypeExhaustedRetries,
		fmt.Sprintf("giving up on %s %s after %d attempts", method, reqURL, maxAttempts))
}

func (t *Transport) send(ctx context.Context, method, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(t.config.Email+"/token", t.config.APIToken)
	req.Header.Set("Accept", "application/json")
	if t.config.UserAgent != "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}
	return t.httpClient.Do(req)
}

// backoff sleeps the policy delay unless attempt was the last one.
func (t *Transport) backoff(ctx context.Context, attempt int, cause error) error {
	if attempt >= t.config.Retry.MaxAttempts {
		return nil
	}
	delay := t.config.Retry.Delay(attempt)
	t.logger.Warn("request failed, retrying",
		zap.Int("attempt", attempt),
		zap.Duration("backoff", delay),
		zap.Error(cause))
	metrics.UpstreamRetries.WithLabelValues("transient").Inc()
	return t.sleep(ctx, delay, metrics.ThrottleBackoff)
}

func (t *Transport) sleep(ctx context.Context, d time.Duration, reason string) error {
	metrics.ThrottleSleeps.WithLabelValues(reason).Observe(d.Seconds())
	if err := t.clock.Sleep(ctx, d); err != nil {
		return deskerrors.Wrap(err, deskerrors.ErrorTypeInternal, "transport sleep interrupted")
	}
	return nil
}

func (t *Transport) resolve(path string, params url.Values) (string, error) {
	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		raw = t.baseURL + path
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", deskerrors.Wrap(err, deskerrors.ErrorTypeConfig, "invalid request URL")
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			q.Del(k)
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func snippet(resp *http.Response) string {
	defer drain(resp)
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return strings.TrimSpace(string(data))
}

// drain consumes and closes the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
