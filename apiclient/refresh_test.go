package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/SairamVarma07/Vytara-AI-Frontend/tokenstore"
)

// authServer is a fake backend. Protected paths accept only the current
// access token; /auth/refresh rotates it.
type authServer struct {
	mu           sync.Mutex
	validToken   string
	nextAccess   string
	nextRefresh  string
	refreshBody  map[string]string
	refreshCalls atomic.Int32
	// refreshStatus, when non-zero, fails every refresh with that status.
	refreshStatus int
	// release, when set, holds the refresh response until it is closed.
	release chan struct{}
	started chan struct{}
	// alwaysReject makes protected paths answer 401 whatever the token.
	alwaysReject bool
}

func newAuthServer(valid, nextAccess, nextRefresh string) *authServer {
	return &authServer{
		validToken:  valid,
		nextAccess:  nextAccess,
		nextRefresh: nextRefresh,
		started:     make(chan struct{}, 16),
	}
}

func (s *authServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == DefaultRefreshPath {
		s.refreshCalls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.refreshBody = body
		release := s.release
		s.mu.Unlock()

		s.started <- struct{}{}
		if release != nil {
			<-release
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.refreshStatus != 0 {
			writeJSON(w, s.refreshStatus, map[string]string{"message": "refresh token revoked"})
			return
		}
		s.validToken = s.nextAccess
		data := map[string]string{"accessToken": s.nextAccess}
		if s.nextRefresh != "" {
			data["refreshToken"] = s.nextRefresh
		}
		writeJSON(w, http.StatusOK, envelope(data))
		return
	}

	s.mu.Lock()
	valid := s.validToken
	reject := s.alwaysReject
	s.mu.Unlock()

	if reject || r.Header.Get("Authorization") != "Bearer "+valid {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
		return
	}
	writeJSON(w, http.StatusOK, envelope(map[string]string{"path": r.URL.Path}))
}

func (s *authServer) holdRefresh() {
	s.mu.Lock()
	s.release = make(chan struct{})
	s.mu.Unlock()
}

func (s *authServer) releaseRefresh() {
	s.mu.Lock()
	close(s.release)
	s.mu.Unlock()
}

func signedToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@vytara.test",
		"exp":   exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestRefresh_SingleFlight(t *testing.T) {
	ctx := context.Background()
	backend := newAuthServer("new-access", "new-access", "new-refresh")
	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, "old-access", "old-refresh", tokenstore.Ephemeral))
	c := newTestClient(t, srv, store)

	const requests = 8
	var (
		wg   sync.WaitGroup
		errs = make([]error, requests)
	)
	wg.Add(requests)
	for i := 0; i < requests; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Execute(ctx, Request{Path: "/chat"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, int32(1), backend.refreshCalls.Load(), "exactly one refresh call")
	backend.mu.Lock()
	assert.Equal(t, "old-refresh", backend.refreshBody["refreshToken"])
	backend.mu.Unlock()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.refreshes.WithLabelValues(refreshSucceeded)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.metrics.queuedWaiters))

	access, err := store.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new-access", access)
}

func TestRefresh_WaitersResumeInArrivalOrder(t *testing.T) {
	ctx := context.Background()
	backend := newAuthServer("new-access", "new-access", "")
	backend.holdRefresh()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, "old-access", "old-refresh", tokenstore.Ephemeral))
	c := newTestClient(t, srv, store)

	var wg sync.WaitGroup
	results := make(map[string]error)
	var resultsMu sync.Mutex
	fire := func(path string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Execute(ctx, Request{Path: path})
			resultsMu.Lock()
			results[path] = err
			resultsMu.Unlock()
		}()
	}

	fire("/owner")
	select {
	case <-backend.started:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never started")
	}

	queued := []string{"/chat/1", "/chat/2", "/chat/3"}
	for i, path := range queued {
		fire(path)
		want := i + 1
		require.Eventually(t, func() bool {
			return len(c.pendingPaths()) == want
		}, 2*time.Second, 5*time.Millisecond)
	}

	assert.Equal(t, queued, c.pendingPaths())
	assert.Equal(t, 3.0, testutil.ToFloat64(c.metrics.queuedWaiters))

	backend.releaseRefresh()
	wg.Wait()

	assert.Empty(t, c.pendingPaths(), "queue drained exactly once")
	for path, err := range results {
		assert.NoError(t, err, path)
	}
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
}

func TestRefresh_TierStability(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		persistence tokenstore.Persistence
		nextRefresh string
		wantRefresh string
	}{
		{name: "ephemeral with rotation", persistence: tokenstore.Ephemeral, nextRefresh: "r2", wantRefresh: "r2"},
		{name: "remembered with rotation", persistence: tokenstore.Remembered, nextRefresh: "r2", wantRefresh: "r2"},
		{name: "remembered without rotation", persistence: tokenstore.Remembered, nextRefresh: "", wantRefresh: "r1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newAuthServer("a2", "a2", tt.nextRefresh)
			srv := httptest.NewServer(backend)
			defer srv.Close()

			eph, dur := tokenstore.NewMemoryTier(), tokenstore.NewMemoryTier()
			store := tokenstore.New(eph, dur)
			require.NoError(t, store.SetTokens(ctx, "a1", "r1", tt.persistence))
			c := newTestClient(t, srv, store)

			_, err := c.Execute(ctx, Request{Path: "/user/profile"})
			require.NoError(t, err)

			written, untouched := eph, dur
			if tt.persistence == tokenstore.Remembered {
				written, untouched = dur, eph
			}
			assert.Equal(t, 0, untouched.Len(), "the other tier must stay empty")

			keys := tokenstore.DefaultKeys()
			access, _, _ := written.Get(ctx, keys.AccessToken)
			refresh, _, _ := written.Get(ctx, keys.RefreshToken)
			assert.Equal(t, "a2", access)
			assert.Equal(t, tt.wantRefresh, refresh)
		})
	}
}

func TestRefresh_FailureIsFatal(t *testing.T) {
	ctx := context.Background()
	backend := newAuthServer("never-valid", "", "")
	backend.refreshStatus = http.StatusForbidden
	backend.holdRefresh()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, "old-access", "old-refresh", tokenstore.Remembered))
	require.NoError(t, store.SetUser(ctx, []byte(`{"id":"1"}`), tokenstore.Remembered))
	c := newTestClient(t, srv, store)

	var expired atomic.Int32
	c.OnSessionExpired(func() { expired.Add(1) })

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	run := func(path string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Execute(ctx, Request{Path: path})
			errs <- err
		}()
	}

	run("/user/profile")
	<-backend.started
	run("/chat")
	run("/tasks/lists")
	require.Eventually(t, func() bool {
		return len(c.pendingPaths()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	backend.releaseRefresh()
	wg.Wait()
	close(errs)

	for err := range errs {
		require.Error(t, err)
		assert.True(t, IsKind(err, KindSessionExpired), "got %v", err)
		assert.True(t, IsAuthError(err))
		assert.Equal(t, "Session expired. Please log in again.", UserMessage(err))
	}

	assert.Equal(t, int32(1), expired.Load(), "session-expired hook fires once per cycle")
	assert.Equal(t, int32(1), backend.refreshCalls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.refreshes.WithLabelValues(refreshFailed)))

	access, err := store.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, access)
	refresh, err := store.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, refresh)
	_, _, ok, err := store.User(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefresh_NoRefreshToken(t *testing.T) {
	ctx := context.Background()
	backend := newAuthServer("valid", "", "")
	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, "stale", "", tokenstore.Ephemeral))
	c := newTestClient(t, srv, store)

	var expired atomic.Int32
	c.OnSessionExpired(func() { expired.Add(1) })

	_, err := c.Execute(ctx, Request{Path: "/chat"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.ErrorIs(t, err, errNoRefreshToken)
	assert.Equal(t, int32(0), backend.refreshCalls.Load())
	assert.Equal(t, int32(1), expired.Load())

	access, err := store.AccessToken(ctx)
	require.NoError(t, err)
	assert.Empty(t, access)
}

func TestRefresh_AnonymousUnauthorizedBypassesRefresh(t *testing.T) {
	backend := newAuthServer("valid", "new", "")
	srv := httptest.NewServer(backend)
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	var expired atomic.Int32
	c.OnSessionExpired(func() { expired.Add(1) })

	_, err := c.Execute(context.Background(), Request{Path: "/user/profile"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "token expired", UserMessage(err))
	assert.Equal(t, int32(0), backend.refreshCalls.Load())
	assert.Equal(t, int32(0), expired.Load())
}

func TestRefresh_ReplayRejectedIsSurfaced(t *testing.T) {
	ctx := context.Background()
	backend := newAuthServer("old", "new", "")
	backend.alwaysReject = true
	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, "old", "r", tokenstore.Ephemeral))
	c := newTestClient(t, srv, store)

	_, err := c.Execute(ctx, Request{Path: "/chat"})
	require.Error(t, err)
	assert.Equal(t, KindHTTP, KindOf(err))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Equal(t, int32(1), backend.refreshCalls.Load(), "a rejected replay must not refresh again")

	access, err := store.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", access, "the refreshed session is kept")
}

func TestRefresh_OrdinaryFailuresDoNotRefresh(t *testing.T) {
	ctx := context.Background()
	var refreshCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case DefaultRefreshPath:
			refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, envelope(map[string]string{"accessToken": "x"}))
		case "/forbidden":
			writeJSON(w, http.StatusForbidden, map[string]string{})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{})
		}
	}))
	defer srv.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, "a", "r", tokenstore.Ephemeral))
	c := newTestClient(t, srv, store)

	_, err := c.Execute(ctx, Request{Path: "/forbidden"})
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
	assert.True(t, IsAuthError(err))

	_, err = c.Execute(ctx, Request{Path: "/boom"})
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Equal(t, "Server error. Please try again later.", UserMessage(err))

	assert.Equal(t, int32(0), refreshCalls.Load())
}

func TestRefresh_StaleTokenReplaysWithoutRefresh(t *testing.T) {
	ctx := context.Background()
	backend := newAuthServer("current", "", "")
	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, "current", "r", tokenstore.Ephemeral))
	c := newTestClient(t, srv, store)

	token, err := c.awaitToken(ctx, attempt{path: "/chat"}, "superseded")
	require.NoError(t, err)
	assert.Equal(t, "current", token)
	assert.Equal(t, int32(0), backend.refreshCalls.Load())

	// a cleared store means the session already ended
	require.NoError(t, store.Clear(ctx))
	_, err = c.awaitToken(ctx, attempt{path: "/chat"}, "superseded")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, int32(0), backend.refreshCalls.Load())
}

func TestRefresh_WaiterCancellation(t *testing.T) {
	ctx := context.Background()
	backend := newAuthServer("new", "new", "")
	backend.holdRefresh()
	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, "old", "r", tokenstore.Ephemeral))
	c := newTestClient(t, srv, store)

	ownerDone := make(chan error, 1)
	go func() {
		_, err := c.Execute(ctx, Request{Path: "/owner"})
		ownerDone <- err
	}()
	<-backend.started

	waitCtx, cancel := context.WithCancel(ctx)
	waiterDone := make(chan error, 1)
	go func() {
		_, err := c.Execute(waitCtx, Request{Path: "/waiter"})
		waiterDone <- err
	}()
	require.Eventually(t, func() bool { return len(c.pendingPaths()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-waiterDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("canceled waiter did not return")
	}

	backend.releaseRefresh()
	assert.NoError(t, <-ownerDone, "the owner is unaffected by a waiter leaving")
}

func TestRefresh_HookReceivesToken(t *testing.T) {
	ctx := context.Background()
	exp := time.Now().Add(15 * time.Minute).Truncate(time.Second)
	next := signedToken(t, "user-1", exp)

	backend := newAuthServer(next, next, "r2")
	srv := httptest.NewServer(backend)
	defer srv.Close()

	store := tokenstore.NewMemory()
	require.NoError(t, store.SetTokens(ctx, "old", "r1", tokenstore.Ephemeral))
	c := newTestClient(t, srv, store)

	got := make(chan *oauth2.Token, 1)
	c.OnTokenRefreshed(func(tok *oauth2.Token) { got <- tok })

	_, err := c.Execute(ctx, Request{Path: "/user/profile"})
	require.NoError(t, err)

	tok := <-got
	assert.Equal(t, next, tok.AccessToken)
	assert.Equal(t, "r2", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.Type())
	assert.True(t, tok.Expiry.Equal(exp))
	assert.Greater(t, Remaining(tok), 14*time.Minute)
}
