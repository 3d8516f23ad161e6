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

// AccountHandler serves the signed-in user's own account. Every route is
// mounted behind RequireAuthenticated.
type AccountHandler struct {
	users    *services.UserService
	sessions *middleware.Sessions
	verifier middleware.IdentityVerifier
	now      func() time.Time
	timeout  time.Duration
	log      *logger.Logger
}

func NewAccountHandler(users *services.UserService, sessions *middleware.Sessions, verifier middleware.IdentityVerifier, timeout time.Duration, log *logger.Logger) *AccountHandler {
	return &AccountHandler{
		users:    users,
		sessions: sessions,
		verifier: verifier,
		now:      time.Now,
		timeout:  timeout,
		log:      log.With("handler", "AccountHandler"),
	}
}

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(middleware.GetUser(r.Context())))
}

func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req models.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, err := h.users.UpdateProfile(ctx, userID, req)
	if err != nil {
		writeError(w, h.log, "UpdateProfile", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(user))
}

func (h *AccountHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req models.UpdatePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.users.UpdatePassword(ctx, userID, req); err != nil {
		writeError(w, h.log, "UpdatePassword", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(models.MessageResponse{Message: "Password has been changed."}))
}

// Delete removes the account and ends the session. Posts and comments are
// left in place.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.users.Delete(ctx, userID); err != nil {
		writeError(w, h.log, "Delete", err)
		return
	}
	if err := h.sessions.Revoke(w, r); err != nil {
		h.log.Warn("session revocation after delete failed", "user_id", userID.Hex(), "err", err)
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(models.MessageResponse{Message: "Your account has been deleted."}))
}

// Link attaches a provider identity proven by an ID token.
func (h *AccountHandler) Link(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	var req models.LinkIdentityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(errs))
		return
	}

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	verified, err := h.verifier.VerifyIdentity(ctx, req.IDToken)
	if err != nil {
		if errors.Is(err, middleware.ErrIdentityUnverified) {
			h.log.Warn("identity verification failed", "user_id", userID.Hex(), "err", err)
			writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Identity could not be verified"))
			return
		}
		writeError(w, h.log, "Link", err)
		return
	}
	if verified.Provider != req.Provider {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(map[string]string{
			"provider": "Token was issued for a different provider",
		}))
		return
	}

	user, err := h.users.LinkIdentity(ctx, userID, models.LinkedIdentity{
		Provider:    verified.Provider,
		Subject:     verified.Subject,
		AccessToken: req.AccessToken,
		ExpiresAt:   middleware.ExpiryFromSeconds(h.now(), req.ExpiresIn),
	})
	if err != nil {
		writeError(w, h.log, "Link", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(user))
}

func (h *AccountHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	userID, _ := middleware.GetUserID(r.Context())

	ctx, cancel := contextWithTimeout(r.Context(), h.timeout)
	defer cancel()

	user, err := h.users.UnlinkIdentity(ctx, userID, chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, h.log, "Unlink", err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(user))
}

type providerAccount struct {
	Provider  string     `json:"provider"`
	Subject   string     `json:"subject"`
	LinkedAt  time.Time  `json:"linked_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ProviderAccount is the provider-scoped read. It is mounted behind
// RequireAuthorized, so the identity is present and live here.
func (h *AccountHandler) ProviderAccount(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	id := user.Identity(chi.URLParam(r, "provider"))
	if id == nil {
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Not found"))
		return
	}

	out := providerAccount{Provider: id.Provider, Subject: id.Subject, LinkedAt: id.LinkedAt}
	if !id.ExpiresAt.IsZero() {
		exp := id.ExpiresAt
		out.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(out))
}
