// Package tokenstore keeps the client's credentials in two storage tiers: an
// ephemeral tier scoped to the current session and a durable tier that survives
// restarts. Exactly one tier holds the live values for a given login.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
)

// Persistence selects the tier a login writes into.
type Persistence int

const (
	// Ephemeral values live only as long as the current session.
	Ephemeral Persistence = iota
	// Remembered values are written to the durable tier.
	Remembered
)

func (p Persistence) String() string {
	switch p {
	case Remembered:
		return "remembered"
	default:
		return "ephemeral"
	}
}

// Tier is a single key-value storage backend.
type Tier interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes the keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Keys names the entries the store writes into each tier.
type Keys struct {
	AccessToken  string
	RefreshToken string
	User         string
}

// DefaultKeys returns the storage keys used when none are configured.
func DefaultKeys() Keys {
	return Keys{
		AccessToken:  "vytara_auth_token",
		RefreshToken: "vytara_refresh_token",
		User:         "vytara_user_data",
	}
}

// Store is the single owner of the token pair and the cached user record.
type Store struct {
	ephemeral Tier
	durable   Tier
	keys      Keys
}

// Option configures a Store.
type Option func(*Store)

// WithKeys overrides the storage keys. Empty fields keep their defaults.
func WithKeys(k Keys) Option {
	return func(s *Store) {
		if k.AccessToken != "" {
			s.keys.AccessToken = k.AccessToken
		}
		if k.RefreshToken != "" {
			s.keys.RefreshToken = k.RefreshToken
		}
		if k.User != "" {
			s.keys.User = k.User
		}
	}
}

// New creates a Store over the given ephemeral and durable tiers.
func New(ephemeral, durable Tier, opts ...Option) *Store {
	s := &Store{
		ephemeral: ephemeral,
		durable:   durable,
		keys:      DefaultKeys(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewMemory creates a Store with two in-memory tiers.
func NewMemory(opts ...Option) *Store {
	return New(NewMemoryTier(), NewMemoryTier(), opts...)
}

func (s *Store) tier(p Persistence) Tier {
	if p == Remembered {
		return s.durable
	}
	return s.ephemeral
}

// lookup reads key from the ephemeral tier first, then the durable tier.
func (s *Store) lookup(ctx context.Context, key string) (string, Persistence, bool, error) {
	v, ok, err := s.ephemeral.Get(ctx, key)
	if err != nil {
		return "", Ephemeral, false, fmt.Errorf("read %s from ephemeral tier: %w", key, err)
	}
	if ok && v != "" {
		return v, Ephemeral, true, nil
	}

	v, ok, err = s.durable.Get(ctx, key)
	if err != nil {
		return "", Remembered, false, fmt.Errorf("read %s from durable tier: %w", key, err)
	}
	if ok && v != "" {
		return v, Remembered, true, nil
	}
	return "", Ephemeral, false, nil
}

// AccessToken returns the stored access token, or "" when none is stored.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	v, _, _, err := s.lookup(ctx, s.keys.AccessToken)
	return v, err
}

// RefreshToken returns the stored refresh token, or "" when none is stored.
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	v, _, _, err := s.lookup(ctx, s.keys.RefreshToken)
	return v, err
}

// SetTokens writes the pair into the tier selected by p. An empty refresh
// token leaves the currently stored refresh token untouched.
func (s *Store) SetTokens(ctx context.Context, access, refresh string, p Persistence) error {
	t := s.tier(p)
	if err := t.Set(ctx, s.keys.AccessToken, access); err != nil {
		return fmt.Errorf("store access token: %w", err)
	}
	if refresh == "" {
		return nil
	}
	if err := t.Set(ctx, s.keys.RefreshToken, refresh); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

// RefreshPersistence reports which tier currently holds the refresh token.
// The durable tier wins when both hold one.
func (s *Store) RefreshPersistence(ctx context.Context) Persistence {
	if v, ok, err := s.durable.Get(ctx, s.keys.RefreshToken); err == nil && ok && v != "" {
		return Remembered
	}
	return Ephemeral
}

// TokenPersistence reports which tier holds the access token.
func (s *Store) TokenPersistence(ctx context.Context) Persistence {
	if v, ok, err := s.durable.Get(ctx, s.keys.AccessToken); err == nil && ok && v != "" {
		return Remembered
	}
	return Ephemeral
}

// User returns the cached user record and the tier it was read from.
func (s *Store) User(ctx context.Context) ([]byte, Persistence, bool, error) {
	v, p, ok, err := s.lookup(ctx, s.keys.User)
	if err != nil || !ok {
		return nil, p, false, err
	}
	return []byte(v), p, true, nil
}

// SetUser caches the user record in the tier selected by p.
func (s *Store) SetUser(ctx context.Context, data []byte, p Persistence) error {
	if err := s.tier(p).Set(ctx, s.keys.User, string(data)); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

// UserPersistence reports which tier holds the cached user record. When no
// record is cached it falls back to the tier holding the access token.
func (s *Store) UserPersistence(ctx context.Context) Persistence {
	if v, ok, err := s.durable.Get(ctx, s.keys.User); err == nil && ok && v != "" {
		return Remembered
	}
	if v, ok, err := s.ephemeral.Get(ctx, s.keys.User); err == nil && ok && v != "" {
		return Ephemeral
	}
	if v, ok, err := s.durable.Get(ctx, s.keys.AccessToken); err == nil && ok && v != "" {
		return Remembered
	}
	return Ephemeral
}

// Clear removes every credential and the cached user from both tiers. Both
// tiers are always attempted; failures are joined.
func (s *Store) Clear(ctx context.Context) error {
	keys := []string{s.keys.AccessToken, s.keys.RefreshToken, s.keys.User}

	var errs []error
	if err := s.ephemeral.Delete(ctx, keys...); err != nil {
		errs = append(errs, fmt.Errorf("clear ephemeral tier: %w", err))
	}
	if err := s.durable.Delete(ctx, keys...); err != nil {
		errs = append(errs, fmt.Errorf("clear durable tier: %w", err))
	}
	return errors.Join(errs...)
}
