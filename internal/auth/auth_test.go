package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	jwt "github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ivanstrassberg/storefront/internal/types"
)

// setupTestRedis creates a miniredis instance for testing
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse", bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, IsBcryptHash(hash))
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong"))

	assert.False(t, IsBcryptHash("plaintext"))
	assert.False(t, IsBcryptHash("$2a$short"))
}

func TestTokenRoundTrip(t *testing.T) {
	ti := NewTokenIssuer("secret", time.Hour)
	token, expires, err := ti.Issue("u1", types.RoleAdmin, "s1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := ti.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, types.RoleAdmin, claims.Role)
	assert.Equal(t, "s1", claims.Id)
}

func TestTokenRejections(t *testing.T) {
	ti := NewTokenIssuer("secret", time.Hour)
	token, _, err := ti.Issue("u1", types.RoleCustomer, "s1")
	require.NoError(t, err)

	_, err = NewTokenIssuer("other", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	_, err = ti.Parse("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenIssuer("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue("u1", types.RoleCustomer, "s1")
	require.NoError(t, err)
	_, err = ti.Parse(old)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1", StandardClaims: jwt.StandardClaims{Id: "s1"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ti.Parse(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")
}

func testSessionStore(t *testing.T, store SessionStore) {
	ctx := context.Background()

	a, err := store.Create(ctx, "u1", time.Hour)
	require.NoError(t, err)
	b, err := store.Create(ctx, "u1", time.Hour)
	require.NoError(t, err)
	c, err := store.Create(ctx, "u2", time.Hour)
	require.NoError(t, err)

	owner, err := store.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "u1", owner)

	require.NoError(t, store.RevokeUser(ctx, "u1", b))
	_, err = store.Get(ctx, a)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(ctx, b)
	assert.NoError(t, err, "kept session survives")
	_, err = store.Get(ctx, c)
	assert.NoError(t, err, "other users untouched")

	require.NoError(t, store.Delete(ctx, b))
	_, err = store.Get(ctx, b)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, store.Delete(ctx, "missing"))
}

func TestRedisSessionStore(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisSessionStoreWithClient(client, "test")
	testSessionStore(t, store)

	id, err := store.Create(context.Background(), "u3", time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = store.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisSessionStoreConnectionFailure(t *testing.T) {
	mr, client := setupTestRedis(t)
	store := NewRedisSessionStoreWithClient(client, "test")
	mr.Close()

	_, err := store.Get(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSessionNotFound))
}

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()
	testSessionStore(t, store)

	id, err := store.Create(context.Background(), "u3", time.Minute)
	require.NoError(t, err)
	store.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = store.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerLoginResolveLogout(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewTokenIssuer("secret", time.Hour), NewMemorySessionStore())
	u := &types.User{ID: "u1", Role: types.RoleCustomer}

	token, _, err := m.Login(ctx, u)
	require.NoError(t, err)

	id, err := m.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.True(t, id.Authenticated())
	assert.False(t, id.IsAdmin())

	require.NoError(t, m.Logout(ctx, id))
	_, err = m.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManagerRevokeOthers(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewTokenIssuer("secret", time.Hour), NewMemorySessionStore())
	u := &types.User{ID: "u1", Role: types.RoleCustomer}

	keepToken, _, err := m.Login(ctx, u)
	require.NoError(t, err)
	dropToken, _, err := m.Login(ctx, u)
	require.NoError(t, err)
	keep, err := m.Resolve(ctx, keepToken)
	require.NoError(t, err)

	require.NoError(t, m.RevokeOthers(ctx, u.ID, keep.SessionID))
	_, err = m.Resolve(ctx, keepToken)
	assert.NoError(t, err)
	_, err = m.Resolve(ctx, dropToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIdentityContext(t *testing.T) {
	assert.False(t, FromContext(context.Background()).Authenticated())
	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Role: types.RoleAdmin})
	id := FromContext(ctx)
	assert.True(t, id.IsAdmin())
	assert.True(t, id.Owns("u1"))
	assert.False(t, id.Owns("u2"))
}
