package models

import "strings"

// Profile is the user-editable part of a User document.
type Profile struct {
	Name     string `json:"name" bson:"name"`
	Gender   string `json:"gender" bson:"gender"`
	Location string `json:"location" bson:"location"`
	Website  string `json:"website" bson:"website"`
	Picture  string `json:"picture" bson:"picture"`
}

// UpdateProfileRequest carries the settings form. Nil fields are left untouched.
type UpdateProfileRequest struct {
	Email    *string `json:"email"`
	Username *string `json:"username"`
	Name     *string `json:"name"`
	Gender   *string `json:"gender"`
	Location *string `json:"location"`
	Website  *string `json:"website"`
}

func (r *UpdateProfileRequest) Normalize() {
	if r.Email != nil {
		e := normalizeEmail(*r.Email)
		r.Email = &e
	}
	if r.Username != nil {
		u := strings.TrimSpace(*r.Username)
		r.Username = &u
	}
}

func (r *UpdateProfileRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Email != nil && !isEmail(*r.Email) {
		errors["email"] = "Please enter a valid email address"
	}
	if r.Username != nil && *r.Username == "" {
		errors["username"] = "Username cannot be blank"
	}

	return errors
}

// LinkIdentityRequest attaches a provider identity proven by a verified ID token.
type LinkIdentityRequest struct {
	Provider    string `json:"provider"`
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
	// ExpiresIn is the access token lifetime in seconds; 0 when unknown.
	ExpiresIn int64 `json:"expires_in"`
}

func (r *LinkIdentityRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if strings.TrimSpace(r.Provider) == "" {
		errors["provider"] = "Provider is required"
	}
	if r.IDToken == "" {
		errors["id_token"] = "ID token is required"
	}
	if r.AccessToken == "" {
		errors["access_token"] = "Access token is required"
	}
	if r.ExpiresIn < 0 {
		errors["expires_in"] = "Expiry cannot be negative"
	}
	return errors
}
