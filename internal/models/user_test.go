package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignupRequest_Validate(t *testing.T) {
	req := SignupRequest{Email: "  A@X.com ", Password: "abcd", ConfirmPassword: "abcd"}
	req.Normalize()
	require.Equal(t, "a@x.com", req.Email)
	require.Empty(t, req.Validate())

	bad := SignupRequest{Email: "not-an-email", Password: "abc", ConfirmPassword: "abd"}
	errs := bad.Validate()
	require.Contains(t, errs, "email")
	require.Contains(t, errs, "password")
	require.Contains(t, errs, "confirm_password")
}

func TestUsernameFromEmail(t *testing.T) {
	require.Equal(t, "alice", UsernameFromEmail("alice@example.com"))
	require.Equal(t, "bob", UsernameFromEmail("bob"))
}

func TestLinkedIdentity_Live(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	u := &User{Identities: []LinkedIdentity{
		{Provider: "facebook", AccessToken: "tok"},
		{Provider: "google", AccessToken: "tok", ExpiresAt: now.Add(-time.Second)},
		{Provider: "github", AccessToken: "", ExpiresAt: now.Add(time.Hour)},
	}}

	require.True(t, u.Identity("facebook").Live(now))
	require.False(t, u.Identity("google").Live(now))
	require.False(t, u.Identity("github").Live(now))
	require.Nil(t, u.Identity("twitter"))
	require.False(t, u.Identity("twitter").Live(now))

	var nobody *User
	require.Nil(t, nobody.Identity("facebook"))
}
