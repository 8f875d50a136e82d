// Package users covers registration, login, profiles and admin management
// of accounts.
package users

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ivanstrassberg/storefront/internal/apperr"
	"github.com/ivanstrassberg/storefront/internal/auth"
	"github.com/ivanstrassberg/storefront/internal/types"
	"github.com/ivanstrassberg/storefront/internal/validate"
)

type Store interface {
	ListUsers(ctx context.Context) ([]types.User, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetUserByEmail(ctx context.Context, email string) (*types.User, error)
	CreateUser(ctx context.Context, u *types.User) error
	UpdateUser(ctx context.Context, u *types.User) error
	DeleteUser(ctx context.Context, id string) error
}

// SessionRevoker ends sessions after a password change.
type SessionRevoker interface {
	RevokeOthers(ctx context.Context, userID, keep string) error
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type CreateUserRequest struct {
	Name     string           `json:"name" validate:"required,max=100"`
	Email    string           `json:"email" validate:"required,email,max=254"`
	Password string           `json:"password" validate:"required,min=8,max=72"`
	Role     types.Role       `json:"role" validate:"omitempty,oneof=ADMIN CUSTOMER"`
	Status   types.UserStatus `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
}

// UpdateUserRequest is a partial update; nil fields are left alone.
type UpdateUserRequest struct {
	Name     *string           `json:"name" validate:"omitempty,min=1,max=100"`
	Email    *string           `json:"email" validate:"omitempty,email,max=254"`
	Password *string           `json:"password" validate:"omitempty,min=8,max=72"`
	Role     *types.Role       `json:"role" validate:"omitempty,oneof=ADMIN CUSTOMER"`
	Status   *types.UserStatus `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

type Service struct {
	store    Store
	sessions SessionRevoker
	cost     int
	validate *validator.Validate
}

// NewService returns a user service. sessions may be nil, in which case a
// password change leaves other sessions alone.
func NewService(store Store, sessions SessionRevoker, bcryptCost int) *Service {
	return &Service{store: store, sessions: sessions, cost: bcryptCost, validate: validate.New()}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) check(op string, v any) error {
	if err := s.validate.Struct(v); err != nil {
		return apperr.Validation(op, "invalid fields: %s", validate.Fields(err))
	}
	return nil
}

// Register creates a customer account. Registration never grants ADMIN.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*types.User, error) {
	const op = "users.Register"
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if err := s.check(op, req); err != nil {
		return nil, err
	}
	return s.create(ctx, op, req.Name, req.Email, req.Password, types.RoleCustomer, types.UserActive)
}

// Authenticate checks credentials. Unknown emails and wrong passwords give
// the same answer.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*types.User, error) {
	const op = "users.Authenticate"
	u, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if apperr.IsNotFound(err) {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "invalid email or password")
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if !auth.CheckPassword(u.Password, password) {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "invalid email or password")
	}
	if u.Status != types.UserActive {
		return nil, apperr.E(op, apperr.ErrForbidden, "account is inactive")
	}
	return u, nil
}

func (s *Service) Me(ctx context.Context, id auth.Identity) (*types.User, error) {
	const op = "users.Me"
	if !id.Authenticated() {
		return nil, apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	u, err := s.store.GetUser(ctx, id.UserID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return u, nil
}

func (s *Service) UpdateProfile(ctx context.Context, id auth.Identity, name string) (*types.User, error) {
	const op = "users.UpdateProfile"
	u, err := s.Me(ctx, id)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return nil, apperr.Validation(op, "name must be between 1 and 100 characters")
	}
	u.Name = name
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return u, nil
}

// ChangePassword replaces the caller's own password after checking the
// current one, then ends the caller's other sessions.
func (s *Service) ChangePassword(ctx context.Context, id auth.Identity, userID string, req ChangePasswordRequest) error {
	const op = "users.ChangePassword"
	if !id.Authenticated() {
		return apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	if userID == "" {
		userID = id.UserID
	}
	if !id.Owns(userID) {
		return apperr.E(op, apperr.ErrForbidden, "you can only change your own password")
	}
	if err := s.check(op, req); err != nil {
		return err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return apperr.Internal(op, err)
	}
	if !auth.CheckPassword(u.Password, req.CurrentPassword) {
		return apperr.Validation(op, "current password is incorrect")
	}
	hash, err := auth.HashPassword(req.NewPassword, s.cost)
	if err != nil {
		return apperr.Internal(op, err)
	}
	u.Password = hash
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return apperr.Internal(op, err)
	}
	if s.sessions != nil {
		if err := s.sessions.RevokeOthers(ctx, u.ID, id.SessionID); err != nil {
			return apperr.Internal(op, err)
		}
	}
	return nil
}

// Admin operations

func (s *Service) List(ctx context.Context, id auth.Identity) ([]types.User, error) {
	const op = "users.List"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	list, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return list, nil
}

func (s *Service) Get(ctx context.Context, id auth.Identity, userID string) (*types.User, error) {
	const op = "users.Get"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return u, nil
}

func (s *Service) Create(ctx context.Context, id auth.Identity, req CreateUserRequest) (*types.User, error) {
	const op = "users.Create"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if err := s.check(op, req); err != nil {
		return nil, err
	}
	if req.Role == "" {
		req.Role = types.RoleCustomer
	}
	if req.Status == "" {
		req.Status = types.UserActive
	}
	return s.create(ctx, op, req.Name, req.Email, req.Password, req.Role, req.Status)
}

// CreateAdmin bootstraps an administrator from the command line.
func (s *Service) CreateAdmin(ctx context.Context, name, email, password string) (*types.User, error) {
	const op = "users.CreateAdmin"
	req := RegisterRequest{Name: strings.TrimSpace(name), Email: normalizeEmail(email), Password: password}
	if err := s.check(op, req); err != nil {
		return nil, err
	}
	return s.create(ctx, op, req.Name, req.Email, req.Password, types.RoleAdmin, types.UserActive)
}

func (s *Service) Update(ctx context.Context, id auth.Identity, userID string, req UpdateUserRequest) (*types.User, error) {
	const op = "users.Update"
	if err := requireAdmin(op, id); err != nil {
		return nil, err
	}
	if err := s.check(op, req); err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	if id.Owns(u.ID) {
		if (req.Role != nil && *req.Role != types.RoleAdmin) || (req.Status != nil && *req.Status != types.UserActive) {
			return nil, apperr.E(op, apperr.ErrConflict, "you cannot demote or deactivate your own account")
		}
	}
	if req.Name != nil {
		u.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		u.Email = normalizeEmail(*req.Email)
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if req.Status != nil {
		u.Status = *req.Status
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password, s.cost)
		if err != nil {
			return nil, apperr.Internal(op, err)
		}
		u.Password = hash
	}
	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, apperr.Internal(op, err)
	}
	if s.sessions != nil && (req.Password != nil || (req.Status != nil && *req.Status == types.UserInactive)) {
		if err := s.sessions.RevokeOthers(ctx, u.ID, ""); err != nil {
			return nil, apperr.Internal(op, err)
		}
	}
	return u, nil
}

func (s *Service) Delete(ctx context.Context, id auth.Identity, userID string) error {
	const op = "users.Delete"
	if err := requireAdmin(op, id); err != nil {
		return err
	}
	if id.Owns(userID) {
		return apperr.E(op, apperr.ErrConflict, "you cannot delete your own account")
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return apperr.Internal(op, err)
	}
	if s.sessions != nil {
		if err := s.sessions.RevokeOthers(ctx, userID, ""); err != nil {
			return apperr.Internal(op, err)
		}
	}
	return nil
}

// RehashLegacyPasswords replaces every stored password that is not a bcrypt
// hash with its hash and reports how many were changed.
func (s *Service) RehashLegacyPasswords(ctx context.Context) (int, error) {
	const op = "users.RehashLegacyPasswords"
	list, err := s.store.ListUsers(ctx)
	if err != nil {
		return 0, apperr.Internal(op, err)
	}
	n := 0
	for i := range list {
		u := &list[i]
		if auth.IsBcryptHash(u.Password) {
			continue
		}
		hash, err := auth.HashPassword(u.Password, s.cost)
		if err != nil {
			return n, apperr.Internal(op, err)
		}
		u.Password = hash
		if err := s.store.UpdateUser(ctx, u); err != nil {
			return n, apperr.Internal(op, err)
		}
		n++
	}
	return n, nil
}

func (s *Service) create(ctx context.Context, op, name, email, password string, role types.Role, status types.UserStatus) (*types.User, error) {
	hash, err := auth.HashPassword(password, s.cost)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	u := &types.User{
		ID:       types.NewID(),
		Name:     name,
		Email:    email,
		Password: hash,
		Role:     role,
		Status:   status,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, apperr.Internal(op, err)
	}
	return u, nil
}

func requireAdmin(op string, id auth.Identity) error {
	if !id.Authenticated() {
		return apperr.E(op, apperr.ErrUnauthorized, "login required")
	}
	if !id.IsAdmin() {
		return apperr.E(op, apperr.ErrForbidden, "admin only")
	}
	return nil
}
