// Package apiclient is the authenticated HTTP client for the Vytara backend.
//
// Every request carries the stored access token. A 401 on an authenticated
// request triggers a single shared token refresh; concurrent requests that
// fail while the refresh is in flight wait for it and are replayed with the
// new token. When the refresh fails the stored session is cleared and every
// waiting request fails with KindSessionExpired.
package apiclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/SairamVarma07/Vytara-AI-Frontend/tokenstore"
)

// Defaults applied by New.
const (
	DefaultBaseURL                 = "http://localhost:3000/api"
	DefaultTimeout                 = 10 * time.Second
	DefaultUploadTimeoutMultiplier = 3
	DefaultRefreshPath             = "/auth/refresh"
)

// Backoff between transport retries, kept well under the request timeout.
const (
	retryInitialDelay = 200 * time.Millisecond
	retryMaxDelay     = 2 * time.Second
)

// Request describes a single API call.
type Request struct {
	Method string
	// Path is appended to the client's base URL.
	Path string
	// Header values override the client's defaults.
	Header http.Header
	// Body is JSON-encoded. A nil Body sends no body.
	Body any
	// Anonymous sends the request without the stored access token.
	Anonymous bool
}

// Client executes API requests against a single backend.
type Client struct {
	baseURL          string
	timeout          time.Duration
	uploadMultiplier int
	maxRetries       int

	store      *tokenstore.Store
	httpClient *http.Client
	retry      *retry.Client
	log        zerolog.Logger
	registerer prometheus.Registerer
	metrics    *metrics

	refresher refreshCoordinator

	hooksMu      sync.RWMutex
	expiredHooks []func()
	refreshHooks []func(*oauth2.Token)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API base URL, e.g. "https://api.vytara.app/api".
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the per-attempt timeout for JSON requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithUploadTimeoutMultiplier scales the timeout applied to uploads.
func WithUploadTimeoutMultiplier(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.uploadMultiplier = n
		}
	}
}

// WithMaxRetries enables transport-level retries of 5xx, 429 and connection
// failures. Zero, the default, sends every attempt exactly once.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used to report failed requests.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithRegisterer registers the client's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}


// New creates a Client that reads and writes credentials through store.
func New(store *tokenstore.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.New("apiclient: token store is required")
	}

	c := &Client{
		baseURL:          DefaultBaseURL,
		timeout:          DefaultTimeout,
		uploadMultiplier: DefaultUploadTimeoutMultiplier,
		store:            store,
		log:              zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := ValidateBaseURL(c.baseURL); err != nil {
		return nil, err
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	rc, err := retry.NewBackgroundClient(
		retry.WithHTTPClient(c.httpClient),
		retry.WithMaxRetries(c.maxRetries),
		retry.WithInitialRetryDelay(retryInitialDelay),
		retry.WithMaxRetryDelay(retryMaxDelay),
		// send bounds the whole exchange itself.
		retry.WithPerAttemptTimeout(0),
		retry.WithLogger(retryLogger{log: c.log}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	c.retry = rc
	c.metrics = newMetrics(c.registerer)

	return c, nil
}

// ValidateBaseURL checks that rawURL is an absolute http or https URL.
func ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("base URL cannot be empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("base URL must include a host")
	}
	return nil
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Store returns the token store backing the client.
func (c *Client) Store() *tokenstore.Store { return c.store }

// OnSessionExpired registers fn to run once per failed refresh cycle, after
// the store has been cleared.
func (c *Client) OnSessionExpired(fn func()) {
	c.hooksMu.Lock()
	c.expiredHooks = append(c.expiredHooks, fn)
	c.hooksMu.Unlock()
}

// OnTokenRefreshed registers fn to run after a refreshed token pair has been
// persisted.
func (c *Client) OnTokenRefreshed(fn func(*oauth2.Token)) {
	c.hooksMu.Lock()
	c.refreshHooks = append(c.refreshHooks, fn)
	c.hooksMu.Unlock()
}

// attempt is a fully encoded request that can be sent more than once.
type attempt struct {
	method      string
	path        string
	header      http.Header
	body        []byte
	contentType string
	timeout     time.Duration
	anonymous   bool
	// timeoutMessage replaces the default timeout message when set.
	timeoutMessage string
}

// Execute sends req and returns the unwrapped response payload.
func (c *Client) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	a := attempt{
		method:    strings.ToUpper(req.Method),
		path:      req.Path,
		header:    req.Header,
		timeout:   c.timeout,
		anonymous: req.Anonymous,
	}
	if a.method == "" {
		a.method = http.MethodGet
	}
	if req.Body != nil {
		body, err := json.Marshal(req.Body)
		if err != nil {
			return nil, &Error{
				Kind:    KindValidation,
				Message: "request body cannot be encoded",
				Method:  a.method,
				Path:    a.path,
				Err:     err,
			}
		}
		a.body = body
		a.contentType = "application/json"
	}
	return c.do(ctx, a)
}

// Get sends a GET request and decodes the payload into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.call(ctx, Request{Method: http.MethodGet, Path: path}, out)
}

// Post sends in as JSON and decodes the payload into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.call(ctx, Request{Method: http.MethodPost, Path: path, Body: in}, out)
}

// Put sends in as JSON and decodes the payload into out.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.call(ctx, Request{Method: http.MethodPut, Path: path, Body: in}, out)
}

// Delete sends a DELETE request and decodes the payload into out.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.call(ctx, Request{Method: http.MethodDelete, Path: path}, out)
}

func (c *Client) call(ctx context.Context, req Request, out any) error {
	payload, err := c.Execute(ctx, req)
	if err != nil {
		return err
	}
	if err := decodeInto(payload, out); err != nil {
		a := attempt{method: req.Method, path: req.Path}
		annotate(err, a)
		c.logFailure(a, err)
		return err
	}
	return nil
}

// do runs a with the stored token and, on a 401, hands off to the refresh
// coordinator and replays once.
func (c *Client) do(ctx context.Context, a attempt) (json.RawMessage, error) {
	payload, err := c.doWithRefresh(ctx, a)
	c.metrics.requests.WithLabelValues(a.method, outcomeLabel(err)).Inc()
	if err != nil {
		annotate(err, a)
		c.logFailure(a, err)
	}
	return payload, err
}

func (c *Client) doWithRefresh(ctx context.Context, a attempt) (json.RawMessage, error) {
	var token string
	if !a.anonymous {
		var err error
		if token, err = c.store.AccessToken(ctx); err != nil {
			return nil, fmt.Errorf("read access token: %w", err)
		}
	}

	payload, err := c.send(ctx, a, token)
	if token == "" || !isUnauthorized(err) {
		return payload, err
	}

	c.log.Debug().
		Str("method", a.method).
		Str("path", a.path).
		Msg("access token rejected")

	fresh, err := c.awaitToken(ctx, a, token)
	if err != nil {
		return nil, err
	}
	return c.send(ctx, a, fresh)
}

// budget bounds one call to send, including any transport retries.
func (c *Client) budget(a attempt) time.Duration {
	n := time.Duration(c.maxRetries)
	return a.timeout*(n+1) + retryMaxDelay*n
}

// send performs a single HTTP attempt under its own timeout.
func (c *Client) send(ctx context.Context, a attempt, token string) (json.RawMessage, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.budget(a))
	defer cancel()

	requestID := uuid.NewString()

	var body io.Reader
	if a.body != nil {
		body = bytes.NewReader(a.body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, a.method, c.url(a.path), body)
	if err != nil {
		return nil, &Error{
			Kind:      KindValidation,
			Message:   "invalid request",
			RequestID: requestID,
			Err:       err,
		}
	}

	req.Header.Set("Accept", "application/json")
	if a.contentType != "" {
		req.Header.Set("Content-Type", a.contentType)
	}
	for k, vs := range a.header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	// A retryable status that used up its attempts comes back as a response
	// plus a RetryError; the response is what the caller needs.
	resp, err := c.retry.DoWithContext(attemptCtx, req)
	if resp == nil {
		if err == nil {
			err = errors.New("no response")
		}
		c.metrics.requestDuration.WithLabelValues(a.method).Observe(time.Since(start).Seconds())
		return nil, transportError(ctx, attemptCtx, a, requestID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.metrics.requestDuration.WithLabelValues(a.method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, transportError(ctx, attemptCtx, a, requestID, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		e := parseErrorBody(resp.StatusCode, data)
		e.RequestID = requestID
		return nil, e
	}

	payload, err := unwrapSuccess(data)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			apiErr.RequestID = requestID
		}
		return nil, err
	}
	return payload, nil
}

func (c *Client) url(path string) string {
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// transportError classifies a failure that produced no usable response.
func transportError(ctx, attemptCtx context.Context, a attempt, requestID string, err error) *Error {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		msg := a.timeoutMessage
		if msg == "" {
			msg = msgTimeout
		}
		return &Error{
			Kind:      KindTimeout,
			Message:   msg,
			RequestID: requestID,
			Err:       context.DeadlineExceeded,
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{
			Kind:      KindNetwork,
			Message:   "request canceled",
			RequestID: requestID,
			Err:       ctxErr,
		}
	}
	return &Error{
		Kind:      KindNetwork,
		Message:   msgNetwork,
		RequestID: requestID,
		Err:       err,
	}
}

func isUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) &&
		apiErr.Kind == KindHTTP &&
		apiErr.StatusCode == http.StatusUnauthorized
}

// annotate fills in request details the lower layers did not know.
func annotate(err error, a attempt) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return
	}
	if apiErr.Method == "" {
		apiErr.Method = a.method
	}
	if apiErr.Path == "" {
		apiErr.Path = a.path
	}
}

func (c *Client) logFailure(a attempt, err error) {
	ev := c.log.Warn()
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case KindNetwork, KindTimeout, KindMalformed, KindSessionExpired:
			ev = c.log.Error()
		}
		ev = ev.Str("kind", apiErr.Kind.String()).
			Str("request_id", apiErr.RequestID)
		if apiErr.StatusCode != 0 {
			ev = ev.Int("status", apiErr.StatusCode)
		}
	} else {
		ev = c.log.Error()
	}
	ev.Err(err).
		Str("method", a.method).
		Str("path", a.path).
		Msg("api request failed")
}

// retryLogger routes go-httpretry's log lines into zerolog.
type retryLogger struct {
	log zerolog.Logger
}

func (l retryLogger) Debug(msg string, args ...any) { l.log.Debug().Fields(args).Msg(msg) }
func (l retryLogger) Info(msg string, args ...any)  { l.log.Debug().Fields(args).Msg(msg) }
func (l retryLogger) Warn(msg string, args ...any)  { l.log.Warn().Fields(args).Msg(msg) }
func (l retryLogger) Error(msg string, args ...any) { l.log.Warn().Fields(args).Msg(msg) }
