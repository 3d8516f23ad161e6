package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/services"
)

const defaultRequestTimeout = 10 * time.Second

const partialWriteWarning = "Saved, but some related lists could not be updated yet"

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid request body"))
		return false
	}
	return true
}

// writeError is the top-level error renderer. Known kinds become notices;
// everything else is logged and answered with a generic 500.
func writeError(w http.ResponseWriter, log *logger.Logger, op string, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(verr.Fields))
	case errors.Is(err, services.ErrDuplicateAccount):
		writeJSON(w, http.StatusConflict, models.NewErrorResponse("Account with that email address or username already exists"))
	case errors.Is(err, services.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, models.NewErrorResponse("Invalid email or password"))
	case errors.Is(err, services.ErrNoSuchAccount):
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("No account with that identity exists"))
	case errors.Is(err, services.ErrTokenInvalidOrExpired):
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Password reset token is invalid or has expired"))
	case errors.Is(err, services.ErrInvalidImage):
		writeJSON(w, http.StatusBadRequest, models.NewErrorResponse("Invalid image type. Allowed: JPEG, PNG"))
	case errors.Is(err, services.ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.NewErrorResponse("Not found"))
	default:
		log.Error("request failed", "op", op, "err", err)
		writeJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Something went wrong"))
	}
}

func contextWithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = defaultRequestTimeout
	}
	return context.WithTimeout(parent, d)
}

func parseObjectID(w http.ResponseWriter, raw, field string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.NewValidationErrorResponse(map[string]string{field: "Invalid id"}))
		return primitive.NilObjectID, false
	}
	return id, true
}
