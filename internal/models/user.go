package models

import (
	"net/mail"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const MinPasswordLength = 4

type User struct {
	ID       primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Email    string             `json:"email" bson:"email"`
	Username string             `json:"username" bson:"username"`
	Password string             `json:"-" bson:"password"`
	Profile  Profile            `json:"profile" bson:"profile"`

	Posts    []primitive.ObjectID `json:"posts" bson:"posts"`
	Comments []primitive.ObjectID `json:"comments" bson:"comments"`

	// ResetToken holds the SHA-256 hex digest of an outstanding reset token.
	ResetToken          string     `json:"-" bson:"reset_token,omitempty"`
	ResetTokenExpiresAt *time.Time `json:"-" bson:"reset_token_expires_at,omitempty"`

	Identities []LinkedIdentity `json:"identities" bson:"identities"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// LinkedIdentity is a third-party provider account attached to a user.
// A zero ExpiresAt means the access token does not expire.
type LinkedIdentity struct {
	Provider    string    `json:"provider" bson:"provider"`
	Subject     string    `json:"subject" bson:"subject"`
	AccessToken string    `json:"-" bson:"access_token"`
	ExpiresAt   time.Time `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	LinkedAt    time.Time `json:"linked_at" bson:"linked_at"`
}

// Identity returns the linked identity for provider, or nil.
func (u *User) Identity(provider string) *LinkedIdentity {
	if u == nil {
		return nil
	}
	for i := range u.Identities {
		if u.Identities[i].Provider == provider {
			return &u.Identities[i]
		}
	}
	return nil
}

// Live reports whether the identity carries a usable access token at now.
func (li *LinkedIdentity) Live(now time.Time) bool {
	if li == nil || li.AccessToken == "" {
		return false
	}
	return li.ExpiresAt.IsZero() || li.ExpiresAt.After(now)
}

// UsernameFromEmail derives the default username from the local part of an email address.
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

type SignupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type UpdatePasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

func (r *SignupRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
}

func (r *SignupRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if !isEmail(r.Email) {
		errors["email"] = "Please enter a valid email address"
	}
	validatePassword(errors, r.Password, r.ConfirmPassword)

	return errors
}

func (r *LoginRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
}

func (r *LoginRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if !isEmail(r.Email) {
		errors["email"] = "Please enter a valid email address"
	}
	if r.Password == "" {
		errors["password"] = "Password cannot be blank"
	}

	return errors
}

func (r *ForgotPasswordRequest) Normalize() {
	r.Email = normalizeEmail(r.Email)
}

func (r *ForgotPasswordRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if !isEmail(r.Email) {
		errors["email"] = "Please enter a valid email address"
	}
	return errors
}

func (r *ResetPasswordRequest) Validate() map[string]string {
	errors := make(map[string]string)
	validatePassword(errors, r.Password, r.ConfirmPassword)
	return errors
}

func (r *UpdatePasswordRequest) Validate() map[string]string {
	errors := make(map[string]string)
	validatePassword(errors, r.Password, r.ConfirmPassword)
	return errors
}

func validatePassword(errors map[string]string, password, confirm string) {
	if len(password) < MinPasswordLength {
		errors["password"] = "Password must be at least 4 characters long"
	}
	if password != confirm {
		errors["confirm_password"] = "Passwords do not match"
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
