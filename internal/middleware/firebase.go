package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

var ErrIdentityUnverified = errors.New("identity could not be verified")

type FirebaseAuthConfig struct {
	ProjectID       string
	CredentialsJSON string
}

// NewFirebaseAuthClient builds an Auth client for server-side ID token
// verification. Without inline credentials the default application
// credentials are used.
func NewFirebaseAuthClient(ctx context.Context, cfg FirebaseAuthConfig) (*fbauth.Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth: %w", err)
	}
	return client, nil
}

// VerifiedIdentity is a provider identity proven by an ID token.
type VerifiedIdentity struct {
	Provider string
	Subject  string
}

// IdentityVerifier turns a client-supplied ID token into a verified identity.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, idToken string) (*VerifiedIdentity, error)
}

type FirebaseVerifier struct {
	client *fbauth.Client
}

func NewFirebaseVerifier(client *fbauth.Client) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

func (v *FirebaseVerifier) VerifyIdentity(ctx context.Context, idToken string) (*VerifiedIdentity, error) {
	if v == nil || v.client == nil {
		return nil, fmt.Errorf("%w: firebase is not configured", ErrIdentityUnverified)
	}

	tok, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentityUnverified, err)
	}

	provider := tok.Firebase.SignInProvider
	subject := tok.UID
	// Identities maps provider -> list of provider-side user ids.
	if ids, ok := tok.Firebase.Identities[provider].([]interface{}); ok && len(ids) > 0 {
		if s, ok := ids[0].(string); ok && s != "" {
			subject = s
		}
	}
	if provider == "" {
		return nil, fmt.Errorf("%w: token has no sign-in provider", ErrIdentityUnverified)
	}
	return &VerifiedIdentity{Provider: provider, Subject: subject}, nil
}

// ExpiryFromSeconds converts a client-reported lifetime to an absolute expiry.
// Zero means unknown and leaves the identity without an expiry.
func ExpiryFromSeconds(now time.Time, seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(seconds) * time.Second)
}
