package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
)

const SessionCookieName = "shutterfeed_session"

var (
	ErrNoSession      = errors.New("no session token")
	ErrInvalidSession = errors.New("invalid or expired session")
	ErrSessionRevoked = errors.New("session revoked")
)

// Claims is the payload of a session token.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type SessionOptions struct {
	Secret       string
	TTL          time.Duration
	CookieSecure bool
	Now          func() time.Time
}

// Sessions issues and verifies HS256 session tokens. A token travels either in
// the session cookie or as a bearer token.
type Sessions struct {
	secret      []byte
	ttl         time.Duration
	secure      bool
	now         func() time.Time
	revocations *RevocationList
}

func NewSessions(opts SessionOptions, revocations *RevocationList) *Sessions {
	s := &Sessions{
		secret:      []byte(opts.Secret),
		ttl:         opts.TTL,
		secure:      opts.CookieSecure,
		now:         opts.Now,
		revocations: revocations,
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Issue signs a new session token for userID.
func (s *Sessions) Issue(userID primitive.ObjectID) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)

	claims := Claims{
		UserID: userID.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return token, expiresAt, nil
}

// Establish starts a session for user: it sets the session cookie and returns
// the token for clients that prefer the Authorization header.
func (s *Sessions) Establish(w http.ResponseWriter, user *models.User) (string, error) {
	token, expiresAt, err := s.Issue(user.ID)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// Parse verifies signature, expiry and revocation.
func (s *Sessions) Parse(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrNoSession
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidSession
	}
	if s.revocations != nil && s.revocations.Revoked(ctx, claims.ID) {
		return nil, ErrSessionRevoked
	}
	return claims, nil
}

// Revoke ends the session carried by r, if any, and clears the cookie.
func (s *Sessions) Revoke(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})

	claims, err := s.Parse(r.Context(), TokenFromRequest(r))
	if err != nil {
		return nil
	}
	if s.revocations == nil || claims.ExpiresAt == nil {
		return nil
	}
	return s.revocations.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time)
}

// TokenFromRequest prefers a bearer token over the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}
