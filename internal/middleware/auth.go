package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	claimsKey    contextKey = "sessionClaims"
)

// PrincipalLoader loads the user a session belongs to.
type PrincipalLoader interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

// Authenticate resolves the request's session into a principal. It never
// rejects: requests without a valid session continue anonymously and the
// gates decide.
func Authenticate(sessions *Sessions, users PrincipalLoader, log *logger.Logger) func(http.Handler) http.Handler {
	log = log.With("middleware", "Authenticate")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := sessions.Parse(r.Context(), token)
			if err != nil {
				log.Debug("session rejected", "err", err)
				next.ServeHTTP(w, r)
				return
			}

			userID, err := primitive.ObjectIDFromHex(claims.UserID)
			if err != nil {
				log.Debug("session has malformed user id", "user_id", claims.UserID)
				next.ServeHTTP(w, r)
				return
			}

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				log.Debug("session principal not loaded", "user_id", claims.UserID, "err", err)
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, user)))
		})
	}
}

// WithPrincipal attaches user to ctx.
func WithPrincipal(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, principalKey, user)
}

// GetUser returns the authenticated principal, or nil.
func GetUser(ctx context.Context) *models.User {
	user, _ := ctx.Value(principalKey).(*models.User)
	return user
}

// GetUserID extracts the principal's id from context
func GetUserID(ctx context.Context) (primitive.ObjectID, bool) {
	user := GetUser(ctx)
	if user == nil {
		return primitive.NilObjectID, false
	}
	return user.ID, true
}

func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
