package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
)

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time { return c.t }

func newTestSessions(clock *stepClock) (*Sessions, *RevocationList) {
	rl := NewRevocationList(nil, logger.NewNop())
	rl.now = clock.Now
	return NewSessions(SessionOptions{Secret: "test-secret", TTL: time.Hour, Now: clock.Now}, rl), rl
}

func TestSessions_EstablishAndAuthenticate(t *testing.T) {
	clock := &stepClock{t: gateNow}
	sessions, _ := newTestSessions(clock)
	user := &models.User{ID: primitive.NewObjectID(), Username: "alice"}
	loader := &countingLoader{users: map[primitive.ObjectID]*models.User{user.ID: user}}

	rec := httptest.NewRecorder()
	token, err := sessions.Establish(rec, user)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, SessionCookieName, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)

	var seen *models.User
	h := Authenticate(sessions, loader, logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUser(r.Context())
		require.NotNil(t, GetClaims(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	require.Equal(t, user.ID, seen.ID)

	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
}

func TestSessions_ParseRejects(t *testing.T) {
	clock := &stepClock{t: gateNow}
	sessions, _ := newTestSessions(clock)
	token, _, err := sessions.Issue(primitive.NewObjectID())
	require.NoError(t, err)

	_, err = sessions.Parse(context.Background(), "")
	require.ErrorIs(t, err, ErrNoSession)

	_, err = sessions.Parse(context.Background(), token+"x")
	require.ErrorIs(t, err, ErrInvalidSession)

	other := NewSessions(SessionOptions{Secret: "other", Now: clock.Now}, nil)
	_, err = other.Parse(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidSession)

	clock.t = gateNow.Add(2 * time.Hour)
	_, err = sessions.Parse(context.Background(), token)
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessions_RevokeOnLogout(t *testing.T) {
	clock := &stepClock{t: gateNow}
	sessions, rl := newTestSessions(clock)
	token, _, err := sessions.Issue(primitive.NewObjectID())
	require.NoError(t, err)

	claims, err := sessions.Parse(context.Background(), token)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/user/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	require.NoError(t, sessions.Revoke(rec, req))
	require.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)

	_, err = sessions.Parse(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionRevoked)
	require.True(t, rl.Revoked(context.Background(), claims.ID))

	// entries are dropped once the token would have expired anyway
	clock.t = gateNow.Add(2 * time.Hour)
	require.False(t, rl.Revoked(context.Background(), claims.ID))
}

func TestAuthenticate_DeletedUserIsAnonymous(t *testing.T) {
	clock := &stepClock{t: gateNow}
	sessions, _ := newTestSessions(clock)
	token, _, err := sessions.Issue(primitive.NewObjectID())
	require.NoError(t, err)

	h := Authenticate(sessions, &countingLoader{}, logger.NewNop())(RequireAuthenticated(okHandler()))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
}

func TestRevocationList_Redis(t *testing.T) {
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("set GO_TEST_INTEGRATION=1 to run redis integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisC.Terminate(context.Background()) })

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	writer := NewRevocationList(client, logger.NewNop())
	reader := NewRevocationList(client, logger.NewNop())

	require.NoError(t, writer.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))
	require.True(t, reader.Revoked(ctx, "jti-1"), "revocations are shared through redis")
	require.False(t, reader.Revoked(ctx, "jti-2"))

	ttl, err := client.TTL(ctx, revokedKeyPrefix+"jti-1").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}
