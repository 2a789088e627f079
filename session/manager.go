// Package session tracks who is signed in. It restores a stored session at
// startup, records logins, and reacts when the API client reports that the
// session can no longer be refreshed.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/SairamVarma07/Vytara-AI-Frontend/apiclient"
	"github.com/SairamVarma07/Vytara-AI-Frontend/tokenstore"
)

// State is the authentication state of a Manager.
type State int

const (
	StateLoading State = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Manager owns the in-memory view of the current session.
type Manager struct {
	client *apiclient.Client
	store  *tokenstore.Store
	log    zerolog.Logger

	mu        sync.RWMutex
	state     State
	user      *apiclient.User
	listeners []func(State, *apiclient.User)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithListener registers fn to run after every state change.
func WithListener(fn func(State, *apiclient.User)) Option {
	return func(m *Manager) { m.listeners = append(m.listeners, fn) }
}

// NewManager creates a Manager in the loading state and subscribes it to the
// client's session-expired notifications.
func NewManager(client *apiclient.Client, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		store:  client.Store(),
		log:    zerolog.Nop(),
		state:  StateLoading,
	}
	for _, opt := range opts {
		opt(m)
	}
	client.OnSessionExpired(m.expire)
	return m
}

// State returns the current authentication state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// User returns a copy of the signed-in user with unset nutrition goals
// filled in, or nil.
func (m *Manager) User() *apiclient.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user == nil {
		return nil
	}
	u := m.user.WithGoalDefaults()
	return &u
}

// IsAuthenticated reports whether a session is active.
func (m *Manager) IsAuthenticated() bool {
	return m.State() == StateAuthenticated
}

// HasValidToken reports whether an access token is stored. It does not check
// the token with the backend.
func (m *Manager) HasValidToken(ctx context.Context) bool {
	token, err := m.store.AccessToken(ctx)
	return err == nil && token != ""
}

func (m *Manager) set(state State, user *apiclient.User) {
	m.mu.Lock()
	m.state = state
	m.user = user
	listeners := append([]func(State, *apiclient.User){}, m.listeners...)
	m.mu.Unlock()

	var snapshot *apiclient.User
	if user != nil {
		u := *user
		snapshot = &u
	}
	for _, fn := range listeners {
		fn(state, snapshot)
	}
}

// Initialize restores a stored session. A cached user makes the session
// authenticated immediately; the profile is then re-fetched. Auth failures
// end the session, other failures keep the cached state.
func (m *Manager) Initialize(ctx context.Context) error {
	m.set(StateLoading, nil)

	token, err := m.store.AccessToken(ctx)
	if err != nil {
		m.set(StateUnauthenticated, nil)
		return fmt.Errorf("read stored session: %w", err)
	}
	if token == "" {
		m.set(StateUnauthenticated, nil)
		return nil
	}

	var cached *apiclient.User
	if data, _, ok, err := m.store.User(ctx); err != nil {
		m.log.Warn().Err(err).Msg("failed to read cached user")
	} else if ok {
		var u apiclient.User
		if err := json.Unmarshal(data, &u); err != nil {
			m.log.Warn().Err(err).Msg("ignoring unreadable cached user")
		} else {
			cached = &u
		}
	}
	m.set(StateAuthenticated, cached)

	profile, err := m.client.GetProfile(ctx)
	if err != nil {
		if apiclient.IsAuthError(err) {
			// a failed refresh has already cleared the store and notified
			if m.State() == StateUnauthenticated {
				return nil
			}
			m.log.Info().Err(err).Msg("stored session rejected")
			if clearErr := m.store.Clear(ctx); clearErr != nil {
				m.log.Error().Err(clearErr).Msg("failed to clear rejected session")
			}
			m.set(StateUnauthenticated, nil)
			return nil
		}
		m.log.Warn().Err(err).Msg("profile sync failed, keeping cached session")
		return nil
	}

	// the profile fetch may have ended the session through a failed refresh
	if m.State() != StateAuthenticated {
		return nil
	}
	if err := m.cacheUser(ctx, profile, m.store.TokenPersistence(ctx)); err != nil {
		m.log.Warn().Err(err).Msg("failed to cache profile")
	}
	m.set(StateAuthenticated, profile)
	return nil
}

// Login records a successful authentication. Existing credentials are cleared
// from both tiers first so a login never mixes tiers.
func (m *Manager) Login(ctx context.Context, resp *apiclient.AuthResponse, p tokenstore.Persistence) error {
	if resp == nil || resp.AccessToken == "" || resp.User == nil {
		return apiclient.NewValidationError("Invalid authentication response - missing accessToken or user data")
	}

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear previous session: %w", err)
	}
	if err := m.store.SetTokens(ctx, resp.AccessToken, resp.RefreshToken, p); err != nil {
		return err
	}
	if err := m.cacheUser(ctx, resp.User, p); err != nil {
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.log.Error().Err(clearErr).Msg("failed to roll back partial login")
		}
		return err
	}

	m.log.Info().
		Str("user_id", resp.User.ID.String()).
		Str("persistence", p.String()).
		Msg("logged in")
	m.set(StateAuthenticated, resp.User)
	return nil
}

// LoginWithPassword authenticates with email and password.
func (m *Manager) LoginWithPassword(ctx context.Context, email, password string, p tokenstore.Persistence) error {
	if email == "" || password == "" {
		return apiclient.NewValidationError("Email and password are required.")
	}
	resp, err := m.client.Login(ctx, apiclient.LoginRequest{Email: email, Password: password})
	if err != nil {
		return err
	}
	return m.Login(ctx, resp, p)
}

// Signup creates an account and signs in to it.
func (m *Manager) Signup(ctx context.Context, req apiclient.SignupRequest, p tokenstore.Persistence) error {
	if req.Email == "" || req.Password == "" || req.FullName == "" {
		return apiclient.NewValidationError("Email, password and full name are required.")
	}
	resp, err := m.client.Signup(ctx, req)
	if err != nil {
		return err
	}
	return m.Login(ctx, resp, p)
}

// Logout ends the session locally. Storage failures are logged, never
// returned, and the manager always ends unauthenticated.
func (m *Manager) Logout(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.log.Error().Err(err).Msg("failed to clear session during logout")
	}
	m.set(StateUnauthenticated, nil)
}

// RevokeAndLogout asks the backend to end the session, then logs out locally
// whatever the backend answered.
func (m *Manager) RevokeAndLogout(ctx context.Context) error {
	var revokeErr error
	if m.HasValidToken(ctx) {
		revokeErr = m.client.Logout(ctx)
		if revokeErr != nil {
			m.log.Warn().Err(revokeErr).Msg("backend logout failed")
		}
	}
	m.Logout(ctx)
	return revokeErr
}

// UpdateUser merges partial into the current user and rewrites the cached
// record in whichever tier holds it.
func (m *Manager) UpdateUser(ctx context.Context, partial map[string]any) error {
	m.mu.RLock()
	current := m.user
	state := m.state
	m.mu.RUnlock()

	merged, err := mergeUser(current, partial)
	if err != nil {
		return err
	}
	if err := m.cacheUser(ctx, merged, m.store.UserPersistence(ctx)); err != nil {
		return err
	}
	m.set(state, merged)
	return nil
}

// SaveProfile sends partial to the backend and caches the stored profile.
func (m *Manager) SaveProfile(ctx context.Context, partial map[string]any) (*apiclient.User, error) {
	if len(partial) == 0 {
		return nil, apiclient.NewValidationError("No profile fields to update.")
	}
	updated, err := m.client.UpdateProfile(ctx, partial)
	if err != nil {
		return nil, err
	}
	canonical, err := toMap(updated)
	if err != nil {
		return nil, err
	}
	if err := m.UpdateUser(ctx, canonical); err != nil {
		return nil, err
	}
	return m.User(), nil
}

// SetAvatar uploads filePath as the profile photo and saves its URL.
func (m *Manager) SetAvatar(ctx context.Context, filePath string) (*apiclient.User, error) {
	res, err := m.client.UploadAvatar(ctx, filePath)
	if err != nil {
		return nil, err
	}
	return m.SaveProfile(ctx, map[string]any{"avatar": res.URL})
}

// expire handles a failed token refresh. The store is already cleared.
func (m *Manager) expire() {
	m.log.Warn().Msg("session expired")
	if m.State() == StateUnauthenticated {
		return
	}
	m.set(StateUnauthenticated, nil)
}

func (m *Manager) cacheUser(ctx context.Context, u *apiclient.User, p tokenstore.Persistence) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return m.store.SetUser(ctx, data, p)
}

func toMap(u *apiclient.User) (map[string]any, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return out, nil
}

// mergeUser overlays partial on base field by field.
func mergeUser(base *apiclient.User, partial map[string]any) (*apiclient.User, error) {
	fields := map[string]any{}
	if base != nil {
		var err error
		if fields, err = toMap(base); err != nil {
			return nil, err
		}
	}
	for k, v := range partial {
		fields[k] = v
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}
	var merged apiclient.User
	if err := json.Unmarshal(data, &merged); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, apiclient.NewValidationError("Invalid value for %s.", typeErr.Field)
		}
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &merged, nil
}
