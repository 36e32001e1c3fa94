package httpapi

import (
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/example/itdrive/internal/apperr"
	"github.com/example/itdrive/internal/auth"
	"github.com/example/itdrive/internal/models"
)

type registerRequest struct {
	Email     string      `json:"email"`
	Password  string      `json:"password"`
	FirstName string      `json:"firstName"`
	LastName  string      `json:"lastName"`
	Role      models.Role `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token     string      `json:"token"`
	UserID    int64       `json:"userId"`
	Role      models.Role `json:"role"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		s.writeError(w, r, apperr.Validation("a valid email is required"))
		return
	}
	switch req.Role {
	case "":
		req.Role = models.RolePassenger
	case models.RolePassenger, models.RoleDriver:
	default:
		s.writeError(w, r, apperr.Validation("role must be PASSENGER or DRIVER"))
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.store.CreateUser(r.Context(), models.User{
		Email:        req.Email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         req.Role,
		PasswordHash: hash,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondWithToken(w, r, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.store.UserByEmail(r.Context(), req.Email)
	if apperr.IsNotFound(err) {
		s.writeError(w, r, apperr.Auth("invalid email or password"))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := auth.CheckPassword(u.PasswordHash, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondWithToken(w, r, http.StatusOK, u)
}

func (s *Server) respondWithToken(w http.ResponseWriter, r *http.Request, status int, u models.User) {
	token, exp, err := s.issuer.Issue(u)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, AuthResponse{Token: token, UserID: u.ID, Role: u.Role, ExpiresAt: exp})
}
