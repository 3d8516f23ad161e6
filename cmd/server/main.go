package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/shutterfeed/backend/internal/config"
	"github.com/shutterfeed/backend/internal/handlers"
	"github.com/shutterfeed/backend/internal/metrics"
	appMiddleware "github.com/shutterfeed/backend/internal/middleware"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/services"
	"github.com/shutterfeed/backend/internal/storage"
	"github.com/shutterfeed/backend/internal/storage/memory"
	"github.com/shutterfeed/backend/internal/storage/mongo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewWithOptions(logger.Options{
		Mode:       cfg.Log.Mode,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", "err", err)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting shutterfeed", "env", cfg.Env, "store", cfg.Store.Driver)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := openStore(rootCtx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(ctx); err != nil {
			log.Warn("store close failed", "err", err)
		}
	}()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = appMiddleware.NewRedisClient(rootCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, session revocations stay local until it recovers", "err", err)
		}
		defer redisClient.Close()
	}

	// Firebase Auth (server-side verification of ID tokens)
	var verifier appMiddleware.IdentityVerifier
	if cfg.Firebase.ProjectID != "" || cfg.Firebase.CredentialsJSON != "" {
		authClient, err := appMiddleware.NewFirebaseAuthClient(rootCtx, appMiddleware.FirebaseAuthConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsJSON: cfg.Firebase.CredentialsJSON,
		})
		if err != nil {
			log.Warn("failed to initialize Firebase Auth client; identity linking disabled", "err", err)
		} else {
			verifier = appMiddleware.NewFirebaseVerifier(authClient)
		}
	}

	var notifier services.Notifier = services.NewLogNotifier(log)
	if cfg.Mail.SendGridAPIKey != "" {
		notifier = services.NewSendGridMailer(cfg.Mail.SendGridAPIKey, cfg.Mail.FromEmail, cfg.Mail.FromName)
	} else {
		log.Warn("SENDGRID_API_KEY not set; outbound mail is written to the log")
	}

	users := services.NewUserService(store, log, nil)
	issuer := services.NewTokenIssuer(store, notifier, log, services.TokenIssuerOptions{
		TTL:     cfg.Content.ResetTokenTTL,
		Metrics: m,
	})
	graph := services.NewContentGraph(store, log, services.ContentGraphOptions{
		BackrefAttempts: cfg.Content.BackrefAttempts,
		BackrefBackoff:  cfg.Content.BackrefBackoff,
		Metrics:         m,
	})
	images, err := services.NewImageService(cfg.Uploads.Dir, cfg.Uploads.MaxSizeMB, store, log)
	if err != nil {
		return err
	}
	sessions := appMiddleware.NewSessions(appMiddleware.SessionOptions{
		Secret:       cfg.Session.JWTSecret,
		TTL:          cfg.Session.JWTExpiration,
		CookieSecure: cfg.Session.CookieSecure,
	}, appMiddleware.NewRevocationList(redisClient, log))

	router := handlers.NewRouter(handlers.Deps{
		Users:          users,
		Issuer:         issuer,
		Graph:          graph,
		Images:         images,
		Sessions:       sessions,
		Verifier:       verifier,
		Gatherer:       reg,
		Log:            log,
		PublicBaseURL:  cfg.PublicBaseURL,
		UploadDir:      cfg.Uploads.Dir,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.Content.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Shutterfeed API server starting", "addr", cfg.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", "err", err)
	}
	// let queued reset mails go out before the store closes
	issuer.Wait()
	log.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case config.StoreMemory:
		if cfg.DataDir == "" {
			return memory.New(), nil
		}
		return memory.NewPersistent(cfg.DataDir)
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		return mongo.New(connectCtx, cfg)
	}
}
