package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shutterfeed/backend/internal/middleware"
	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/services"
)

type Deps struct {
	Users    *services.UserService
	Issuer   *services.TokenIssuer
	Graph    *services.ContentGraph
	Images   *services.ImageService
	Sessions *middleware.Sessions
	// Verifier proves linked identities; nil rejects every link attempt.
	Verifier middleware.IdentityVerifier
	// Gatherer backs /metrics when set.
	Gatherer prometheus.Gatherer
	Log      *logger.Logger

	PublicBaseURL  string
	UploadDir      string
	CORSOrigins    []string
	RequestTimeout time.Duration
	Now            func() time.Time
}

func NewRouter(d Deps) http.Handler {
	if d.Verifier == nil {
		d.Verifier = middleware.NewFirebaseVerifier(nil)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	authH := NewAuthHandler(d.Users, d.Issuer, d.Sessions, d.PublicBaseURL, d.RequestTimeout, d.Log)
	accountH := NewAccountHandler(d.Users, d.Sessions, d.Verifier, d.RequestTimeout, d.Log)
	accountH.now = d.Now
	contentH := NewContentHandler(d.Graph, d.Images, d.RequestTimeout, d.Log)
	imageH := NewImageHandler(d.Images, d.RequestTimeout, d.Log)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Authenticate(d.Sessions, d.Users, d.Log))
	r.Use(middleware.RequestLogger(d.Log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/user", func(r chi.Router) {
		r.Get("/login", loginNotice)
		r.Post("/login", authH.Login)
		r.Post("/signup", authH.Signup)
		r.Post("/logout", authH.Logout)
		r.Post("/forgot", authH.Forgot)
		r.Get("/reset/{token}", authH.ValidateReset)
		r.Post("/reset/{token}", authH.Reset)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuthenticated)

			r.Get("/account", accountH.Me)
			r.Post("/settings", accountH.UpdateProfile)
			r.Post("/password", accountH.UpdatePassword)
			r.Post("/delete", accountH.Delete)
			r.Post("/link", accountH.Link)
			r.Post("/unlink/{provider}", accountH.Unlink)
			r.Get("/posts", contentH.MyPosts)
			r.Post("/post/new", contentH.NewPostWithImage)
		})

		r.Get("/{username}", contentH.PublicProfile)
	})

	r.Route("/posts", func(r chi.Router) {
		r.Get("/", contentH.Feed)
		r.Get("/{postId}", contentH.GetPost)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuthenticated)
			r.Post("/", contentH.CreatePost)
			r.Post("/{postId}/comments", contentH.Comment)
		})
	})

	r.With(middleware.RequireAuthenticated).Post("/upload", imageH.Upload)
	r.Get("/upload/{id}", imageH.Get)

	r.With(middleware.RequireAuthorized(providerParam, d.Now)).Get("/api/{provider}", accountH.ProviderAccount)

	if d.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(d.UploadDir))))
	}

	return r
}

func providerParam(r *http.Request) string {
	return chi.URLParam(r, "provider")
}

// loginNotice is where the gates send unauthenticated requests.
func loginNotice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.NewSuccessResponse(models.MessageResponse{Message: "Please log in: POST /user/login"}))
}
