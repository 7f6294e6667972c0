package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"workpulse/internal/apierr"
	"workpulse/internal/auth"
	"workpulse/internal/db"
	"workpulse/internal/db/models"

	"github.com/gin-gonic/gin"
)

type authHandler struct {
	store  db.Store
	tokens *auth.Tokens
	logger *slog.Logger
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

func (h *authHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierr.Validation("invalid login body"))
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		respondError(c, apierr.Validation("email and password are required"))
		return
	}

	user, err := h.store.GetUserByEmail(c.Request.Context(), req.Email)
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, apierr.New(apierr.CodeInvalidCredentials, "invalid email or password"))
		return
	}
	if err != nil {
		respondError(c, apierr.Wrap(apierr.CodeStorage, "failed to load user", err))
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.logger.Info("login rejected", "email", req.Email, "ip", c.ClientIP())
		respondError(c, apierr.New(apierr.CodeInvalidCredentials, "invalid email or password"))
		return
	}

	token, expires, err := h.tokens.Issue(user)
	if err != nil {
		respondError(c, apierr.Wrap(apierr.CodeInternal, "failed to issue token", err))
		return
	}
	h.logger.Info("user logged in", "user_id", user.ID)
	c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expires, User: user})
}
