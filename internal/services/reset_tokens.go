package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shutterfeed/backend/internal/metrics"
	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/storage"
)

const (
	DefaultResetTokenTTL = time.Hour
	resetTokenBytes      = 16
	defaultSendTimeout   = 15 * time.Second

	resetSubject   = "Reset your password on Shutterfeed"
	changedSubject = "Your Shutterfeed password has been changed"
)

// ResetToken is the raw secret handed to the account owner. Only its digest is stored.
type ResetToken struct {
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

type TokenIssuerOptions struct {
	TTL         time.Duration
	SendTimeout time.Duration
	Now         func() time.Time
	Metrics     *metrics.Metrics
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

// TokenIssuer runs the password-reset lifecycle: issue, validate, consume.
type TokenIssuer struct {
	users    storage.Users
	notifier Notifier
	log      *logger.Logger
	metrics  *metrics.Metrics

	ttl         time.Duration
	sendTimeout time.Duration
	now         func() time.Time
	rand        io.Reader

	inflight sync.WaitGroup
}

func NewTokenIssuer(users storage.Users, notifier Notifier, log *logger.Logger, opts TokenIssuerOptions) *TokenIssuer {
	t := &TokenIssuer{
		users:       users,
		notifier:    notifier,
		log:         log.With("service", "TokenIssuer"),
		metrics:     opts.Metrics,
		ttl:         opts.TTL,
		sendTimeout: opts.SendTimeout,
		now:         opts.Now,
		rand:        opts.Rand,
	}
	if t.ttl <= 0 {
		t.ttl = DefaultResetTokenTTL
	}
	if t.sendTimeout <= 0 {
		t.sendTimeout = defaultSendTimeout
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.rand == nil {
		t.rand = rand.Reader
	}
	return t
}

// Issue stores a fresh token for the account behind email and mails the reset
// link in the background. It returns once the token is persisted; a failed
// delivery is logged and leaves the token valid.
func (t *TokenIssuer) Issue(ctx context.Context, email, linkBase string) (*ResetToken, error) {
	const op = "services.TokenIssuer.Issue"
	lg := t.log.With("op", op)

	user, err := t.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("no account for reset request")
			return nil, ErrNoSuchAccount
		}
		lg.Error("lookup failed", "err", err)
		return nil, storeErr(op, err)
	}

	token, err := t.newToken()
	if err != nil {
		lg.Error("token generation failed", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// round up so the token lives at least the full ttl
	expiresAt := stamp(t.now().Add(t.ttl + time.Millisecond - time.Nanosecond))
	if err := t.users.SetResetToken(ctx, user.ID, digest(token), expiresAt); err != nil {
		lg.Error("persist reset token failed", "user_id", user.ID.Hex(), "err", err)
		return nil, storeErr(op, err)
	}
	t.metrics.ResetToken("issued")
	lg.Info("reset token issued", "user_id", user.ID.Hex(), "expires_at", expiresAt)

	link := strings.TrimRight(linkBase, "/") + "/user/reset/" + token
	t.dispatch(ctx, user.Email, resetSubject, resetBody(link), "reset_link")

	return &ResetToken{Token: token, ExpiresAt: expiresAt}, nil
}

// Validate returns the account holding token if it is still unexpired. Unknown,
// cleared and expired tokens are indistinguishable to the caller.
func (t *TokenIssuer) Validate(ctx context.Context, token string) (*models.User, error) {
	const op = "services.TokenIssuer.Validate"

	if token == "" {
		return nil, ErrTokenInvalidOrExpired
	}
	user, err := t.users.UserByResetToken(ctx, digest(token), stamp(t.now()))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTokenInvalidOrExpired
		}
		t.log.Error("reset token lookup failed", "op", op, "err", err)
		return nil, storeErr(op, err)
	}
	return user, nil
}

// Consume sets newPassword on the account holding token and clears the token
// in one conditional update, so at most one caller succeeds per token. The
// "password changed" mail is sent synchronously; if it fails the reset stands
// and the user is returned together with an error matching ErrDeliveryFailed.
func (t *TokenIssuer) Consume(ctx context.Context, token, newPassword string) (*models.User, error) {
	const op = "services.TokenIssuer.Consume"
	lg := t.log.With("op", op)

	if len(newPassword) < models.MinPasswordLength {
		return nil, NewValidationError(map[string]string{"password": "Password must be at least 4 characters long"})
	}
	if token == "" {
		t.metrics.ResetToken("rejected")
		return nil, ErrTokenInvalidOrExpired
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%s: hash password: %w", op, err)
	}

	user, err := t.users.ConsumeResetToken(ctx, digest(token), stamp(t.now()), string(hash))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			t.metrics.ResetToken("rejected")
			lg.Warn("reset token rejected")
			return nil, ErrTokenInvalidOrExpired
		}
		lg.Error("consume reset token failed", "err", err)
		return nil, storeErr(op, err)
	}
	t.metrics.ResetToken("consumed")
	lg.Info("password reset", "user_id", user.ID.Hex())

	if err := t.notifier.Send(ctx, user.Email, changedSubject, changedBody(user.Email)); err != nil {
		t.metrics.NotificationFailed("password_changed")
		lg.Error("password changed notification failed", "user_id", user.ID.Hex(), "err", err)
		return user, fmt.Errorf("%s: %w: %w", op, ErrDeliveryFailed, err)
	}
	return user, nil
}

// Wait blocks until background deliveries started by Issue have finished.
func (t *TokenIssuer) Wait() {
	t.inflight.Wait()
}

func (t *TokenIssuer) dispatch(ctx context.Context, to, subject, body, kind string) {
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.sendTimeout)
		defer cancel()

		if err := t.notifier.Send(sendCtx, to, subject, body); err != nil {
			t.metrics.NotificationFailed(kind)
			t.log.Error("notification failed", "kind", kind, "err", err)
		}
	}()
}

func (t *TokenIssuer) newToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := io.ReadFull(t.rand, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func resetBody(link string) string {
	return "You are receiving this email because you (or someone else) have requested the reset of the password for your account.\n\n" +
		"Please click on the following link, or paste this into your browser to complete the process:\n\n" +
		link + "\n\n" +
		"If you did not request this, please ignore this email and your password will remain unchanged.\n"
}

func changedBody(email string) string {
	return "Hello,\n\nThis is a confirmation that the password for your account " + email + " has just been changed.\n"
}
