package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendGridMailer_Send(t *testing.T) {
	var (
		got  sendGridMailSendRequest
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewSendGridMailer("key", "noreply@x.com", "Shutterfeed")
	m.Endpoint = srv.URL

	require.NoError(t, m.Send(context.Background(), "a@x.com", "subj", "body"))
	require.Equal(t, "Bearer key", auth)
	require.Equal(t, "a@x.com", got.Personalizations[0].To[0].Email)
	require.Equal(t, "subj", got.Personalizations[0].Subject)
	require.Equal(t, "body", got.Content[0].Value)
	require.Equal(t, "noreply@x.com", got.From.Email)
}

func TestSendGridMailer_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewSendGridMailer("key", "noreply@x.com", "")
	m.Endpoint = srv.URL
	require.Error(t, m.Send(context.Background(), "a@x.com", "s", "b"))

	require.Error(t, NewSendGridMailer("", "noreply@x.com", "").Send(context.Background(), "a@x.com", "s", "b"))
	require.Error(t, m.Send(context.Background(), " ", "s", "b"))
}
