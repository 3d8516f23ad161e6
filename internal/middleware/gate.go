package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shutterfeed/backend/internal/models"
)

// LoginPath is where rejected requests are sent.
const LoginPath = "/user/login"

// Decision is the outcome of a gate check. A rejected decision always carries
// the redirect target.
type Decision struct {
	Allowed  bool
	Redirect string
}

var (
	allow  = Decision{Allowed: true}
	reject = Decision{Redirect: LoginPath}
)

// CheckAuthenticated passes when ctx carries a principal. It only reads ctx.
func CheckAuthenticated(ctx context.Context) Decision {
	if GetUser(ctx) == nil {
		return reject
	}
	return allow
}

// CheckAuthorized additionally requires a live linked identity for provider.
// A missing identity is rejected exactly like a missing principal.
func CheckAuthorized(ctx context.Context, provider string, now time.Time) Decision {
	user := GetUser(ctx)
	if user == nil || provider == "" {
		return reject
	}
	if id := user.Identity(provider); id == nil || !id.Live(now) {
		return reject
	}
	return allow
}

func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d := CheckAuthenticated(r.Context()); !d.Allowed {
			deny(w, r, d)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthorized gates provider-scoped routes. providerFrom extracts the
// provider name from the request, typically a URL parameter.
func RequireAuthorized(providerFrom func(*http.Request) string, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if d := CheckAuthorized(r.Context(), providerFrom(r), now()); !d.Allowed {
				deny(w, r, d)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// deny answers API clients with 401 JSON and browsers with a redirect.
func deny(w http.ResponseWriter, r *http.Request, d Decision) {
	if WantsJSON(r) {
		writeJSON(w, http.StatusUnauthorized, models.NewRedirectResponse("Authentication required", d.Redirect))
		return
	}
	http.Redirect(w, r, d.Redirect, http.StatusFound)
}

func WantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}
