package session

import (
	"context"
	"net/url"

	"github.com/SairamVarma07/Vytara-AI-Frontend/apiclient"
	"github.com/SairamVarma07/Vytara-AI-Frontend/tokenstore"
)

// GoogleAuthorizePath starts the backend's Google sign-in flow.
const GoogleAuthorizePath = "/oauth2/authorization/google"

// AuthorizeURL is the address a browser opens to start a Google sign-in.
func (m *Manager) AuthorizeURL() string {
	return m.client.BaseURL() + GoogleAuthorizePath
}

// HandleOAuthCallback completes a sign-in from the query string the backend
// redirects to: token, refreshToken and, on failure, error. OAuth sessions
// are always remembered.
func (m *Manager) HandleOAuthCallback(ctx context.Context, query url.Values) error {
	if msg := query.Get("error"); msg != "" {
		return apiclient.NewValidationError("%s", msg)
	}
	token := query.Get("token")
	if token == "" {
		return apiclient.NewValidationError("No authentication token received")
	}
	refresh := query.Get("refreshToken")

	claims, err := apiclient.DecodeClaims(token)
	if err != nil {
		m.log.Debug().Err(err).Msg("oauth token carries no readable claims")
		claims = &apiclient.TokenClaims{}
	}

	// the profile request authenticates with the new token
	if err := m.store.SetTokens(ctx, token, refresh, tokenstore.Remembered); err != nil {
		return err
	}
	user, err := m.client.GetProfile(ctx)
	if err != nil {
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.log.Error().Err(clearErr).Msg("failed to clear oauth session")
		}
		m.set(StateUnauthenticated, nil)
		return err
	}
	if user.ID == "" {
		user.ID = apiclient.ID(claims.Subject)
	}
	if user.Email == "" {
		user.Email = claims.Email
	}

	// Login reads the refresh token back from the response, so carry the one
	// that is stored now; a refresh during GetProfile may have rotated it.
	current, err := m.store.AccessToken(ctx)
	if err != nil {
		return err
	}
	currentRefresh, err := m.store.RefreshToken(ctx)
	if err != nil {
		return err
	}
	return m.Login(ctx, &apiclient.AuthResponse{
		AccessToken:  current,
		RefreshToken: currentRefresh,
		User:         user,
	}, tokenstore.Remembered)
}
