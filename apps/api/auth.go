package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mahaj/venue-support/pkg/auth"
	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/store"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	Role        model.Role     `json:"role"`
	Username    string         `json:"username"`
	UserID      model.Identity `json:"user_id"`
}

type MeResponse struct {
	UserID   model.Identity `json:"user_id"`
	Username string         `json:"username"`
	Role     model.Role     `json:"role"`
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeDetail(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.users.ByUsername(r.Context(), req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("login lookup failed", "username", req.Username, "err", err)
		writeDetail(w, http.StatusInternalServerError, "Login is temporarily unavailable")
		return
	}
	if err != nil || !user.CheckPassword(req.Password) {
		writeDetail(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	id := model.IdentityFromInt(user.ID)
	token, err := s.issuer.GenerateToken(id, user.Username, user.Role)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	s.logger.Info("user logged in", "user", id, "role", user.Role)
	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		Role:        user.Role,
		Username:    user.Username,
		UserID:      id,
	})
}

// Me returns the account behind the token, so role changes since login are
// visible to the client.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	uid, err := claims.UserID.Int64()
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	user, err := s.users.ByID(r.Context(), uid)
	if errors.Is(err, store.ErrNotFound) {
		writeDetail(w, http.StatusUnauthorized, "User not found")
		return
	}
	if err != nil {
		s.logger.Error("me lookup failed", "user", uid, "err", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, MeResponse{
		UserID:   model.IdentityFromInt(user.ID),
		Username: user.Username,
		Role:     user.Role,
	})
}
