package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shutterfeed/backend/internal/middleware"
	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/services"
)

// AuthHandler covers signup, login, logout and the password reset flow.
type AuthHandler struct {
	users    *services.UserService
	issuer   *services.TokenIssuer
	sessions *middleware.Sessions
	baseURL  string
	timeout  time.Duration
	log      *logger.Logger
}

func NewAuthHandler(users *services.UserService, issuer *services.TokenIssuer, sessions *middleware.Sessions, baseURL string, timeout time.Duration, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		users:    users,
		issuer:   issuer,
		sessions: sessions,
		baseURL:  baseURL,
		timeout:  timeout,
		log:      log.With("handler", "AuthHandler"),
	}
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, err := h.users.Register(ctx, req)
	if err != nil {
		writeError(w, h.log, "Signup", err)
		return
	}
	h.startSession(w, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, err := h.users.Login(ctx, req)
	if err != nil {
		writeError(w, h.log, "Login", err)
		return
	}
	h.startSession(w, http.StatusOK, user)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Revoke(w, r); err != nil {
		// the cookie is already cleared; the token stays valid on other instances until expiry
		h.log.Warn("session revocation failed", "err", err)
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(models.MessageResponse{Message: "Logged out"}))
}

// Forgot issues a reset token and mails the link.
func (h *AuthHandler) Forgot(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Normalize()
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errs))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, err := h.issuer.Issue(ctx, req.Email, h.baseURL); err != nil {
		writeError(w, h.log, "Forgot", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(models.MessageResponse{
		Message: "An e-mail has been sent to " + req.Email + " with further instructions.",
	}))
}

// ValidateReset reports whether the token in the URL can still be used.
func (h *AuthHandler) ValidateReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, err := h.issuer.Validate(ctx, chi.URLParam(r, "token")); err != nil {
		writeError(w, h.log, "ValidateReset", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(models.MessageResponse{Message: "Token is valid"}))
}

// Reset consumes the token, sets the new password and signs the user in.
func (h *AuthHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errs))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, err := h.issuer.Consume(ctx, chi.URLParam(r, "token"), req.Password)
	if user != nil {
		if _, serr := h.sessions.Establish(w, user); serr != nil {
			h.log.Error("establish session after reset failed", "user_id", user.ID.Hex(), "err", serr)
		}
	}
	if err != nil {
		if errors.Is(err, services.ErrDeliveryFailed) {
			h.log.Warn("password reset but confirmation mail failed", "user_id", user.ID.Hex())
		}
		writeError(w, h.log, "Reset", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(models.MessageResponse{Message: "Success! Your password has been changed."}))
}

func (h *AuthHandler) startSession(w http.ResponseWriter, status int, user *models.User) {
	token, err := h.sessions.Establish(w, user)
	if err != nil {
		writeError(w, h.log, "startSession", err)
		return
	}
	writeJSON(w, status, models.NewSuccessResponse(models.AuthResponse{Token: token, User: *user}))
}
