package clientstate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/marketlive/internal/cache"
	"github.com/charlesng35/marketlive/pkg/crypto"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestAccessTokenRoundTrip(t *testing.T) {
	state, err := New(cache.NewMemoryStore())
	require.NoError(t, err)
	ctx := context.Background()

	token, err := state.AccessToken(ctx)
	require.NoError(t, err)
	require.Empty(t, token)

	require.NoError(t, state.SetAccessToken(ctx, "Bearer opaque-token"))
	token, err = state.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "opaque-token", token)

	require.NoError(t, state.SetAccessToken(ctx, ""))
	token, err = state.AccessToken(ctx)
	require.NoError(t, err)
	require.Empty(t, token)
}

func TestExpiredTokenCountsAsAbsent(t *testing.T) {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	state, err := New(cache.NewMemoryStore(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	expired := signToken(t, jwt.MapClaims{"sub": "buyer01", "exp": now.Add(-time.Minute).Unix()})
	require.NoError(t, state.SetAccessToken(ctx, expired))

	token, err := state.AccessToken(ctx)
	require.NoError(t, err)
	require.Empty(t, token)

	valid := signToken(t, jwt.MapClaims{"sub": "buyer01", "exp": now.Add(time.Hour).Unix()})
	require.NoError(t, state.SetAccessToken(ctx, valid))

	token, err = state.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, valid, token)
}

func TestSetUserStoresBlobVerbatim(t *testing.T) {
	store := cache.NewMemoryStore()
	state, err := New(store)
	require.NoError(t, err)
	ctx := context.Background()

	blob := json.RawMessage(`{"userId":17,"username":"shop","roles":["ROLE_SELLER"],"avatarUrl":"https://cdn/a.png","extra":true}`)
	identity, err := state.SetUser(ctx, blob)
	require.NoError(t, err)
	require.Equal(t, "17", identity.ID)
	require.Equal(t, RoleSeller, identity.Role)
	require.True(t, identity.IsSeller())
	require.False(t, identity.IsAdmin())

	raw, ok, err := store.Get(ctx, KeyUser)
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, string(blob), string(raw))

	_, err = state.SetUser(ctx, json.RawMessage(`"not an object"`))
	require.Error(t, err)

	user, err := state.User(ctx)
	require.NoError(t, err)
	require.Equal(t, "shop", user.Username)
}

func TestSnapshotDerivesIdentityFromToken(t *testing.T) {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	state, err := New(cache.NewMemoryStore(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	ctx := context.Background()

	snap, err := state.Snapshot(ctx)
	require.NoError(t, err)
	require.False(t, snap.Authenticated)

	token := signToken(t, jwt.MapClaims{
		"sub":   "admin01",
		"scope": "ROLE_CONTENT_ADMIN",
		"exp":   now.Add(time.Hour).Unix(),
	})
	require.NoError(t, state.SetAccessToken(ctx, token))

	snap, err = state.Snapshot(ctx)
	require.NoError(t, err)
	require.True(t, snap.Authenticated)
	require.Equal(t, "admin01", snap.Subject)
	require.NotNil(t, snap.ExpiresAt)
	require.True(t, snap.User.IsAdmin())

	require.NoError(t, state.Clear(ctx))
	snap, err = state.Snapshot(ctx)
	require.NoError(t, err)
	require.False(t, snap.Authenticated)
	require.Nil(t, snap.User)
}

func TestDecodeIdentityShapes(t *testing.T) {
	identity, err := DecodeIdentity([]byte(`{"result":{"id":"u-9","email":"a@b.c","role":"system_admin"}}`))
	require.NoError(t, err)
	require.Equal(t, "u-9", identity.ID)
	require.True(t, identity.IsAdmin())
	require.Equal(t, "a@b.c", identity.Email)

	_, err = ParseToken("opaque")
	require.ErrorIs(t, err, ErrOpaqueToken)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestCipherEncryptsValuesAtRest(t *testing.T) {
	store := cache.NewMemoryStore()
	sealer, err := crypto.NewSealer([]byte("state-passphrase"), crypto.FastArgon2Params())
	require.NoError(t, err)

	state, err := New(store, WithCipher(sealer))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, state.SetAccessToken(ctx, "opaque-token"))
	_, err = state.SetUser(ctx, json.RawMessage(`{"id":"u1","fullName":"Ana"}`))
	require.NoError(t, err)

	raw, ok, err := store.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, string(raw), "opaque-token")

	token, err := state.AccessToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "opaque-token", token)

	user, err := state.User(ctx)
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)
}

func TestCipherIgnoresPlaintextLeftovers(t *testing.T) {
	store := cache.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, KeyAccessToken, []byte("legacy-token"), 0))

	sealer, err := crypto.NewSealer([]byte("state-passphrase"), crypto.FastArgon2Params())
	require.NoError(t, err)
	state, err := New(store, WithCipher(sealer))
	require.NoError(t, err)

	token, err := state.AccessToken(ctx)
	require.NoError(t, err)
	require.Empty(t, token)
}
