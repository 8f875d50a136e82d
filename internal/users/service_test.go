package users

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/storage"
	"github.com/ivanstrassberg/storefront/internal/types"
)

func newService(t *testing.T) (*Service, *storage.MemoryStore, *auth.MemorySessionStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	sessions := auth.NewMemorySessionStore()
	mgr := auth.NewManager(auth.NewTokenIssuer("secret", time.Hour), sessions)
	return NewService(store, mgr, bcrypt.MinCost), store, sessions
}

func register(t *testing.T, svc *Service, email string) *types.User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterRequest{Name: "Ann", Email: email, Password: "password123"})
	require.NoError(t, err)
	return u
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	u := register(t, svc, "  Admin@Example.com ")
	assert.Equal(t, "admin@example.com", u.Email)
	assert.Equal(t, types.RoleCustomer, u.Role, "role never derived from the email")
	assert.True(t, auth.IsBcryptHash(u.Password))

	_, err := svc.Register(ctx, RegisterRequest{Name: "Dup", Email: "ADMIN@example.com", Password: "password123"})
	assert.True(t, apperr.IsConflict(err))

	_, err = svc.Register(ctx, RegisterRequest{Name: "", Email: "bad", Password: "short"})
	require.True(t, apperr.IsValidation(err))
	assert.Contains(t, apperr.Message(err), "email, name, password")
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)
	u := register(t, svc, "ann@example.com")

	got, err := svc.Authenticate(ctx, "ANN@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, "ann@example.com", "wrong")
	assert.True(t, apperr.IsUnauthorized(err))
	_, err = svc.Authenticate(ctx, "nobody@example.com", "password123")
	assert.True(t, apperr.IsUnauthorized(err))

	u.Status = types.UserInactive
	require.NoError(t, store.UpdateUser(ctx, u))
	_, err = svc.Authenticate(ctx, "ann@example.com", "password123")
	assert.True(t, apperr.IsForbidden(err))
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	u := register(t, svc, "ann@example.com")
	id := auth.Identity{UserID: u.ID, Role: u.Role}

	got, err := svc.UpdateProfile(ctx, id, "  Ann Lee ")
	require.NoError(t, err)
	assert.Equal(t, "Ann Lee", got.Name)

	_, err = svc.UpdateProfile(ctx, id, " ")
	assert.True(t, apperr.IsValidation(err))
	_, err = svc.UpdateProfile(ctx, auth.Identity{}, "x")
	assert.True(t, apperr.IsUnauthorized(err))
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, _, sessions := newService(t)
	u := register(t, svc, "ann@example.com")
	other := register(t, svc, "bob@example.com")

	current, err := sessions.Create(ctx, u.ID, time.Hour)
	require.NoError(t, err)
	stale, err := sessions.Create(ctx, u.ID, time.Hour)
	require.NoError(t, err)
	id := auth.Identity{UserID: u.ID, Role: u.Role, SessionID: current}

	err = svc.ChangePassword(ctx, id, other.ID, ChangePasswordRequest{CurrentPassword: "password123", NewPassword: "newpassword1"})
	assert.True(t, apperr.IsForbidden(err))

	err = svc.ChangePassword(ctx, id, "", ChangePasswordRequest{CurrentPassword: "nope", NewPassword: "newpassword1"})
	assert.True(t, apperr.IsValidation(err))

	err = svc.ChangePassword(ctx, id, u.ID, ChangePasswordRequest{CurrentPassword: "password123", NewPassword: "short"})
	assert.True(t, apperr.IsValidation(err))

	require.NoError(t, svc.ChangePassword(ctx, id, u.ID, ChangePasswordRequest{CurrentPassword: "password123", NewPassword: "newpassword1"}))
	_, err = svc.Authenticate(ctx, "ann@example.com", "newpassword1")
	require.NoError(t, err)

	_, err = sessions.Get(ctx, current)
	assert.NoError(t, err, "the caller's session survives")
	_, err = sessions.Get(ctx, stale)
	assert.ErrorIs(t, err, auth.ErrSessionNotFound)
}

func TestAdminManagement(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	admin, err := svc.CreateAdmin(ctx, "Root", "root@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, admin.Role)
	adminID := auth.Identity{UserID: admin.ID, Role: types.RoleAdmin}
	customer := register(t, svc, "ann@example.com")
	customerID := auth.Identity{UserID: customer.ID, Role: types.RoleCustomer}

	_, err = svc.List(ctx, customerID)
	assert.True(t, apperr.IsForbidden(err))

	created, err := svc.Create(ctx, adminID, CreateUserRequest{Name: "Staff", Email: "staff@example.com", Password: "password123", Role: types.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, created.Role)
	assert.Equal(t, types.UserActive, created.Status)

	_, err = svc.Create(ctx, adminID, CreateUserRequest{Name: "X", Email: "x@example.com", Password: "password123", Role: "OWNER"})
	assert.True(t, apperr.IsValidation(err))

	list, err := svc.List(ctx, adminID)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	inactive := types.UserInactive
	updated, err := svc.Update(ctx, adminID, customer.ID, UpdateUserRequest{Status: &inactive})
	require.NoError(t, err)
	assert.Equal(t, types.UserInactive, updated.Status)

	demote := types.RoleCustomer
	_, err = svc.Update(ctx, adminID, admin.ID, UpdateUserRequest{Role: &demote})
	assert.True(t, apperr.IsConflict(err))

	got, err := svc.Get(ctx, adminID, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UserInactive, got.Status)

	assert.True(t, apperr.IsConflict(svc.Delete(ctx, adminID, admin.ID)))
	require.NoError(t, svc.Delete(ctx, adminID, customer.ID))
	_, err = svc.Get(ctx, adminID, customer.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestRehashLegacyPasswords(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newService(t)
	register(t, svc, "hashed@example.com")
	require.NoError(t, store.CreateUser(ctx, &types.User{Name: "Old", Email: "old@example.com", Password: "plaintext"}))

	n, err := svc.RehashLegacyPasswords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.Authenticate(ctx, "old@example.com", "plaintext")
	require.NoError(t, err)

	n, err = svc.RehashLegacyPasswords(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
