package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// errNoRefreshToken means no refresh token was stored when a refresh was needed.
var errNoRefreshToken = errors.New("no refresh token available")

// refreshCoordinator guarantees at most one refresh call is in flight per
// client. Requests that hit a 401 while a refresh is running queue behind it
// and are resumed in arrival order.
type refreshCoordinator struct {
	mu         sync.Mutex
	refreshing bool
	waiters    []*waiter
}

// waiter is a request parked behind an in-flight refresh.
type waiter struct {
	path   string
	result chan refreshResult
}

type refreshResult struct {
	token string
	err   error
}

// refreshResponse is the payload of a successful refresh call.
type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// awaitToken returns an access token to replay a request with after it was
// rejected while using usedToken. It either starts a refresh, joins the one in
// flight, or picks up a token that another refresh already stored.
func (c *Client) awaitToken(ctx context.Context, a attempt, usedToken string) (string, error) {
	rc := &c.refresher

	rc.mu.Lock()
	if rc.refreshing {
		w := &waiter{path: a.path, result: make(chan refreshResult, 1)}
		rc.waiters = append(rc.waiters, w)
		c.metrics.queuedWaiters.Inc()
		rc.mu.Unlock()

		select {
		case res := <-w.result:
			return res.token, res.err
		case <-ctx.Done():
			return "", &Error{
				Kind:    KindNetwork,
				Message: "request canceled while waiting for token refresh",
				Err:     ctx.Err(),
			}
		}
	}

	// The stored token changed after this request was sent: either another
	// refresh already completed or the session was cleared.
	if current, err := c.store.AccessToken(ctx); err == nil && current != usedToken {
		rc.mu.Unlock()
		if current == "" {
			return "", sessionExpired(errNoRefreshToken)
		}
		return current, nil
	}

	rc.refreshing = true
	rc.mu.Unlock()

	tok, refreshErr := c.runRefresh(ctx)
	if refreshErr != nil {
		// Cleared before waiters are released so none of them observe the
		// rejected credentials.
		if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
			c.log.Error().Err(err).Msg("failed to clear session after refresh failure")
		}
	}

	rc.mu.Lock()
	waiters := rc.waiters
	rc.waiters = nil
	rc.refreshing = false
	rc.mu.Unlock()
	c.metrics.queuedWaiters.Sub(float64(len(waiters)))

	if refreshErr != nil {
		c.metrics.refreshes.WithLabelValues(refreshFailed).Inc()
		c.log.Warn().
			Err(refreshErr).
			Int("waiters", len(waiters)).
			Msg("token refresh failed, session cleared")

		for _, w := range waiters {
			w.result <- refreshResult{err: sessionExpired(refreshErr)}
		}
		c.fireSessionExpired()
		return "", sessionExpired(refreshErr)
	}

	c.metrics.refreshes.WithLabelValues(refreshSucceeded).Inc()
	c.log.Debug().Int("waiters", len(waiters)).Msg("token refreshed")

	for _, w := range waiters {
		w.result <- refreshResult{token: tok.AccessToken}
	}
	c.fireTokenRefreshed(tok)
	return tok.AccessToken, nil
}

// runRefresh exchanges the stored refresh token for a new pair and persists
// it into the tier that held the refresh token. The call is detached from the
// caller's cancellation since queued requests depend on its outcome.
func (c *Client) runRefresh(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithoutCancel(ctx)

	refresh, err := c.store.RefreshToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("read refresh token: %w", err)
	}
	if refresh == "" {
		return nil, errNoRefreshToken
	}
	persistence := c.store.RefreshPersistence(ctx)

	body, err := json.Marshal(map[string]string{"refreshToken": refresh})
	if err != nil {
		return nil, fmt.Errorf("encode refresh request: %w", err)
	}

	payload, err := c.send(ctx, attempt{
		method:      http.MethodPost,
		path:        DefaultRefreshPath,
		body:        body,
		contentType: "application/json",
		timeout:     c.timeout,
	}, "")
	if err != nil {
		return nil, err
	}

	var resp refreshResponse
	if err := decodeInto(payload, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, &Error{
			Kind:       KindMalformed,
			StatusCode: http.StatusBadGateway,
			Message:    "refresh response has no access token",
		}
	}

	// An omitted refresh token keeps the stored one.
	if err := c.store.SetTokens(ctx, resp.AccessToken, resp.RefreshToken, persistence); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    "Bearer",
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refresh
	}
	if exp, ok := TokenExpiry(resp.AccessToken); ok {
		tok.Expiry = exp
	}
	return tok, nil
}

func sessionExpired(cause error) *Error {
	return &Error{
		Kind:    KindSessionExpired,
		Message: msgSessionExpired,
		Err:     cause,
	}
}

func (c *Client) fireSessionExpired() {
	c.hooksMu.RLock()
	hooks := append([]func(){}, c.expiredHooks...)
	c.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Client) fireTokenRefreshed(tok *oauth2.Token) {
	c.hooksMu.RLock()
	hooks := append([]func(*oauth2.Token){}, c.refreshHooks...)
	c.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(tok)
	}
}

// pendingPaths returns the paths of the queued requests in resume order.
func (c *Client) pendingPaths() []string {
	c.refresher.mu.Lock()
	defer c.refresher.mu.Unlock()
	paths := make([]string, 0, len(c.refresher.waiters))
	for _, w := range c.refresher.waiters {
		paths = append(paths, w.path)
	}
	return paths
}

// Remaining returns how long tok stays valid, or zero when it has no expiry.
func Remaining(tok *oauth2.Token) time.Duration {
	if tok == nil || tok.Expiry.IsZero() {
		return 0
	}
	return time.Until(tok.Expiry).Round(time.Second)
}
