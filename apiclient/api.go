package apiclient

import (
	"context"
	"net/http"
)

// Login exchanges credentials for a token pair and the user record. It does
// not store anything; see session.Manager for that.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.call(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/auth/login",
		Body:      req,
		Anonymous: true,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Signup creates an account and returns its token pair and user record.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.call(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/auth/signup",
		Body:      req,
		Anonymous: true,
	}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the current session on the backend.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Execute(ctx, Request{Method: http.MethodPost, Path: "/auth/logout"})
	return err
}

// GetProfile fetches the signed-in user's profile.
func (c *Client) GetProfile(ctx context.Context) (*User, error) {
	var u User
	if err := c.Get(ctx, "/user/profile", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateProfile sends a partial profile update and returns the stored profile.
func (c *Client) UpdateProfile(ctx context.Context, partial map[string]any) (*User, error) {
	var u User
	if err := c.Put(ctx, "/user/profile", partial, &u); err != nil {
		return nil, err
	}
	return &u, nil
}
