package clientstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/marketlive/internal/cache"
	"github.com/charlesng35/marketlive/pkg/logger"
)

// Persisted keys. Values are shared with other clients of the same store and are not versioned.
const (
	KeyAccessToken = "accessToken"
	KeyUser        = "user"
)

// Cipher encrypts values at rest.
type Cipher interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// State reads and writes the persisted client session. Writes are last-write-wins.
type State struct {
	store    cache.Store
	cipher   Cipher
	tokenTTL time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// Option customises State.
type Option func(*State)

// WithTokenTTL bounds how long a stored token survives in the backing store.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *State) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithCipher encrypts the token and user blob before they reach the store.
func WithCipher(c Cipher) Option {
	return func(s *State) {
		s.cipher = c
	}
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a State over the supplied store.
func New(store cache.Store, opts ...Option) (*State, error) {
	if store == nil {
		return nil, errors.New("clientstate: store is required")
	}
	s := &State{
		store: store,
		now:   time.Now,
		log:   logger.WithModule("clientstate"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AccessToken returns the stored bearer token. A JWT whose expiry has passed counts as absent.
func (s *State) AccessToken(ctx context.Context) (string, error) {
	raw, ok, err := s.read(ctx, KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("clientstate: read token: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if !ok || token == "" {
		return "", nil
	}

	claims, err := ParseToken(token)
	switch {
	case errors.Is(err, ErrOpaqueToken):
		return token, nil
	case err != nil:
		s.log.Debug("stored token is not parseable", zap.Error(err))
		return token, nil
	case claims.Expired(s.now()):
		s.log.Info("stored token expired", zap.Time("expires_at", claims.ExpiresAt))
		return "", nil
	}
	return token, nil
}

// SetAccessToken persists the bearer token. An empty value removes it.
func (s *State) SetAccessToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return s.store.Delete(ctx, KeyAccessToken)
	}
	if err := s.write(ctx, KeyAccessToken, []byte(token)); err != nil {
		return fmt.Errorf("clientstate: write token: %w", err)
	}
	return nil
}

// User returns the stored identity, or nil when none is stored.
func (s *State) User(ctx context.Context) (*Identity, error) {
	raw, ok, err := s.read(ctx, KeyUser)
	if err != nil {
		return nil, fmt.Errorf("clientstate: read user: %w", err)
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	identity, err := DecodeIdentity(raw)
	if err != nil {
		return nil, fmt.Errorf("clientstate: decode user: %w", err)
	}
	return identity, nil
}

// SetUser stores the identity blob verbatim after checking that it decodes.
func (s *State) SetUser(ctx context.Context, raw json.RawMessage) (*Identity, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, s.store.Delete(ctx, KeyUser)
	}
	identity, err := DecodeIdentity(raw)
	if err != nil {
		return nil, fmt.Errorf("clientstate: decode user: %w", err)
	}
	if err := s.write(ctx, KeyUser, raw); err != nil {
		return nil, fmt.Errorf("clientstate: write user: %w", err)
	}
	return identity, nil
}

// Clear removes the whole session.
func (s *State) Clear(ctx context.Context) error {
	return s.store.Delete(ctx, KeyAccessToken, KeyUser)
}

// Snapshot is a point-in-time view of the session used by the local API.
type Snapshot struct {
	Authenticated bool       `json:"authenticated"`
	User          *Identity  `json:"user,omitempty"`
	Subject       string     `json:"subject,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// Snapshot reads token and user together. When no user blob is stored but the token is a
// JWT, a minimal identity is derived from its claims.
func (s *State) Snapshot(ctx context.Context) (Snapshot, error) {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	user, err := s.User(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Authenticated: token != "", User: user}
	if token == "" {
		return snap, nil
	}
	if claims, err := ParseToken(token); err == nil {
		snap.Subject = claims.Subject
		if !claims.ExpiresAt.IsZero() {
			exp := claims.ExpiresAt
			snap.ExpiresAt = &exp
		}
		if snap.User == nil && claims.Subject != "" {
			snap.User = &Identity{ID: claims.Subject, Username: claims.Subject}
			if len(claims.Roles) > 0 {
				snap.User.Role = claims.Roles[0]
			}
		}
	}
	return snap, nil
}

// Identity returns the best known identity: the stored user or one derived from the token.
func (s *State) Identity(ctx context.Context) (*Identity, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.User, nil
}

func (s *State) read(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok || s.cipher == nil {
		return raw, ok, err
	}
	plain, err := s.cipher.Open(raw)
	if err != nil {
		// Written before encryption was enabled or under another key.
		s.log.Warn("stored value cannot be decrypted, ignoring it", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return plain, true, nil
}

func (s *State) write(ctx context.Context, key string, value []byte) error {
	if s.cipher != nil {
		sealed, err := s.cipher.Seal(value)
		if err != nil {
			return err
		}
		value = sealed
	}
	return s.store.Set(ctx, key, value, s.tokenTTL)
}
