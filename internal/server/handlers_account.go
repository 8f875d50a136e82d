package server

import (
	"net/http"
	"time"

	"github.com/ivanstrassberg/storefront/internal/types"
	"github.com/ivanstrassberg/storefront/internal/users"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *types.User `json:"user"`
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) error {
	if err := s.Store.Ping(r.Context()); err != nil {
		s.Logger.ErrorContext(r.Context(), "health check failed", "error", err)
		return WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleRegister(w http.ResponseWriter, r *http.Request) error {
	var req users.RegisterRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	u, err := s.Users.Register(r.Context(), req)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusCreated, u)
}

func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	u, err := s.Users.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	token, expiresAt, err := s.Sessions.Login(r.Context(), u)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.cfg.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return WriteJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt, User: u})
}

func (s *APIServer) handleLogout(w http.ResponseWriter, r *http.Request) error {
	if err := s.Sessions.Logout(r.Context(), identity(r)); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *APIServer) handleMe(w http.ResponseWriter, r *http.Request) error {
	u, err := s.Users.Me(r.Context(), identity(r))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, u)
}

func (s *APIServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(w, r, &req); err != nil {
		return err
	}
	u, err := s.Users.UpdateProfile(r.Context(), identity(r), req.Name)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, u)
}

func (s *APIServer) handleChangeOwnPassword(w http.ResponseWriter, r *http.Request) error {
	return s.changePassword(w, r, identity(r).UserID)
}

func (s *APIServer) handleChangePassword(w http.ResponseWriter, r *http.Request) error {
	return s.changePassword(w, r, r.PathValue("id"))
}

func (s *APIServer) changePassword(w http.ResponseWriter, r *http.Request, userID string) error {
	var req users.ChangePasswordRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	if err := s.Users.ChangePassword(r.Context(), identity(r), userID, req); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *APIServer) handleListUsers(w http.ResponseWriter, r *http.Request) error {
	list, err := s.Users.List(r.Context(), identity(r))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, list)
}

func (s *APIServer) handleGetUser(w http.ResponseWriter, r *http.Request) error {
	u, err := s.Users.Get(r.Context(), identity(r), r.PathValue("id"))
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, u)
}

func (s *APIServer) handleCreateUser(w http.ResponseWriter, r *http.Request) error {
	var req users.CreateUserRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	u, err := s.Users.Create(r.Context(), identity(r), req)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusCreated, u)
}

func (s *APIServer) handleUpdateUser(w http.ResponseWriter, r *http.Request) error {
	var req users.UpdateUserRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	u, err := s.Users.Update(r.Context(), identity(r), r.PathValue("id"), req)
	if err != nil {
		return err
	}
	return WriteJSON(w, http.StatusOK, u)
}

func (s *APIServer) handleDeleteUser(w http.ResponseWriter, r *http.Request) error {
	if err := s.Users.Delete(r.Context(), identity(r), r.PathValue("id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
