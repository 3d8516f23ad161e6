package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/shutterfeed/backend/internal/metrics"
	"github.com/shutterfeed/backend/internal/middleware"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/services"
	"github.com/shutterfeed/backend/internal/storage/memory"
)

type sentMail struct{ to, subject, body string }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMail
}

func (n *recordingNotifier) Send(_ context.Context, to, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMail{to, subject, body})
	return nil
}

func (n *recordingNotifier) all() []sentMail {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMail(nil), n.sent...)
}

type stubVerifier struct{ identity *middleware.VerifiedIdentity }

func (v stubVerifier) VerifyIdentity(_ context.Context, idToken string) (*middleware.VerifiedIdentity, error) {
	if idToken != "good" {
		return nil, middleware.ErrIdentityUnverified
	}
	return v.identity, nil
}

type testServer struct {
	t        *testing.T
	handler  http.Handler
	issuer   *services.TokenIssuer
	notifier *recordingNotifier
	registry *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewNop()
	store := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	notifier := &recordingNotifier{}

	users := services.NewUserService(store, log, nil)
	issuer := services.NewTokenIssuer(store, notifier, log, services.TokenIssuerOptions{Metrics: m})
	graph := services.NewContentGraph(store, log, services.ContentGraphOptions{Metrics: m, BackrefBackoff: time.Millisecond})
	uploadDir := t.TempDir()
	images, err := services.NewImageService(uploadDir, 1, store, log)
	require.NoError(t, err)

	revocations := middleware.NewRevocationList(nil, log)
	sessions := middleware.NewSessions(middleware.SessionOptions{Secret: "test", TTL: time.Hour}, revocations)

	h := NewRouter(Deps{
		Users:         users,
		Issuer:        issuer,
		Graph:         graph,
		Images:        images,
		Sessions:      sessions,
		Verifier:      stubVerifier{identity: &middleware.VerifiedIdentity{Provider: "facebook.com", Subject: "fb-1"}},
		Gatherer:      reg,
		Log:           log,
		PublicBaseURL: "http://shutterfeed.test",
		UploadDir:     uploadDir,
	})
	return &testServer{t: t, handler: h, issuer: issuer, notifier: notifier, registry: reg}
}

type apiResponse struct {
	Success  bool              `json:"success"`
	Data     json.RawMessage   `json:"data"`
	Error    string            `json:"error"`
	Errors   map[string]string `json:"errors"`
	Warning  string            `json:"warning"`
	Redirect string            `json:"redirect"`
}

func (s *testServer) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.serve(req)
}

func (s *testServer) serve(req *http.Request) (*httptest.ResponseRecorder, apiResponse) {
	s.t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	var resp apiResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (s *testServer) signup(email string) string {
	s.t.Helper()
	rec, resp := s.do(http.MethodPost, "/user/signup", "", map[string]string{
		"email": email, "password": "secret", "confirm_password": "secret",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var auth struct {
		Token string `json:"token"`
	}
	require.NoError(s.t, json.Unmarshal(resp.Data, &auth))
	require.NotEmpty(s.t, auth.Token)
	return auth.Token
}

func (s *testServer) upload(token string) string {
	s.t.Helper()
	var img bytes.Buffer
	require.NoError(s.t, png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 4, 4))))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "pic.png")
	require.NoError(s.t, err)
	_, err = part.Write(img.Bytes())
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec, resp := s.serve(req)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	var up struct {
		ID string `json:"id"`
	}
	require.NoError(s.t, json.Unmarshal(resp.Data, &up))
	return up.ID
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestRouter_GateRedirects(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/account", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/user/login", rec.Header().Get("Location"))

	rec, resp := s.do(http.MethodPost, "/posts", "", map[string]string{"caption": "x"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "/user/login", resp.Redirect)
}

func TestRouter_SignupLoginDuplicate(t *testing.T) {
	s := newTestServer(t)
	s.signup("alice@x.com")

	rec, _ := s.do(http.MethodPost, "/user/signup", "", map[string]string{
		"email": "alice@x.com", "password": "secret", "confirm_password": "secret",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, resp := s.do(http.MethodPost, "/user/signup", "", map[string]string{
		"email": "bad", "password": "1", "confirm_password": "2",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, resp.Errors, "email")

	rec, _ = s.do(http.MethodPost, "/user/login", "", map[string]string{"email": "alice@x.com", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(http.MethodPost, "/user/login", "", map[string]string{"email": "alice@x.com", "password": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Result().Cookies())
}

func TestRouter_PostCommentAndViews(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup("alice@x.com")
	bob := s.signup("bob@x.com")

	imageID := s.upload(alice)
	rec, resp := s.do(http.MethodPost, "/posts", alice, map[string]string{"caption": "first light", "image_id": imageID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Empty(t, resp.Warning)
	var post struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &post))

	rec, _ = s.do(http.MethodPost, "/posts/"+post.ID+"/comments", bob, map[string]string{"content": "wow"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, _ = s.do(http.MethodPost, "/posts/000000000000000000000000/comments", bob, map[string]string{"content": "wow"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = s.do(http.MethodGet, "/posts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed []struct {
		Caption string `json:"caption"`
		Owner   struct {
			Username string `json:"username"`
			Password string `json:"password"`
		} `json:"owner"`
		Image struct {
			Location string `json:"location"`
		} `json:"image"`
		Comments []struct {
			Content string `json:"content"`
			Owner   struct {
				Username string `json:"username"`
			} `json:"owner"`
		} `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &feed))
	require.Len(t, feed, 1)
	require.Equal(t, "first light", feed[0].Caption)
	require.Equal(t, "alice", feed[0].Owner.Username)
	require.Empty(t, feed[0].Owner.Password)
	require.NotEmpty(t, feed[0].Image.Location)
	require.Len(t, feed[0].Comments, 1)
	require.Equal(t, "bob", feed[0].Comments[0].Owner.Username)

	rec, resp = s.do(http.MethodGet, "/user/alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, string(resp.Data), "password")
	require.NotContains(t, string(resp.Data), "@x.com")
	var profile struct {
		Username string `json:"username"`
		Posts    []struct {
			Image map[string]interface{} `json:"image"`
			Owner map[string]interface{} `json:"owner"`
		} `json:"posts"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &profile))
	require.Equal(t, "alice", profile.Username)
	require.Len(t, profile.Posts, 1)
	require.NotNil(t, profile.Posts[0].Image)
	require.Equal(t, "alice", profile.Posts[0].Owner["username"])

	rec, _ = s.do(http.MethodGet, "/user/nobody", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp = s.do(http.MethodGet, "/user/posts", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &mine))
	require.Len(t, mine, 1)

	rec, _ = s.do(http.MethodGet, "/posts/"+post.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = s.do(http.MethodGet, "/posts/not-an-id", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

var resetLink = regexp.MustCompile(`http://shutterfeed\.test/user/reset/([0-9a-f]{32})`)

func TestRouter_PasswordResetFlow(t *testing.T) {
	s := newTestServer(t)
	s.signup("a@x.com")

	rec, _ := s.do(http.MethodPost, "/user/forgot", "", map[string]string{"email": "ghost@x.com"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, resp := s.do(http.MethodPost, "/user/forgot", "", map[string]string{"email": "A@x.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, string(resp.Data), "reset/", "the token only travels by mail")
	s.issuer.Wait()

	mails := s.notifier.all()
	require.Len(t, mails, 1)
	require.Equal(t, "a@x.com", mails[0].to)
	m := resetLink.FindStringSubmatch(mails[0].body)
	require.Len(t, m, 2)
	token := m[1]

	rec, _ = s.do(http.MethodGet, "/user/reset/"+token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodPost, "/user/reset/"+token, "", map[string]string{"password": "newpass123", "confirm_password": "newpass123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotEmpty(t, rec.Result().Cookies(), "a new session is established")
	require.Len(t, s.notifier.all(), 2)

	rec, _ = s.do(http.MethodPost, "/user/reset/"+token, "", map[string]string{"password": "again1", "confirm_password": "again1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodPost, "/user/login", "", map[string]string{"email": "a@x.com", "password": "newpass123"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_LogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("a@x.com")

	rec, _ := s.do(http.MethodGet, "/user/account", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodPost, "/user/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodGet, "/user/account", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_ProviderScopedRoute(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("a@x.com")

	rec, resp := s.do(http.MethodGet, "/api/facebook.com", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "/user/login", resp.Redirect)

	rec, _ = s.do(http.MethodPost, "/user/link", token, map[string]interface{}{
		"provider": "facebook.com", "id_token": "bad", "access_token": "fb-token",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(http.MethodPost, "/user/link", token, map[string]interface{}{
		"provider": "facebook.com", "id_token": "good", "access_token": "fb-token", "expires_in": 3600,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, resp = s.do(http.MethodGet, "/api/facebook.com", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, string(resp.Data), "fb-1")
	require.NotContains(t, string(resp.Data), "fb-token")

	rec, _ = s.do(http.MethodPost, "/user/unlink/facebook.com", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/facebook.com", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_DeleteAccountKeepsContent(t *testing.T) {
	s := newTestServer(t)
	token := s.signup("a@x.com")

	rec, _ := s.do(http.MethodPost, "/posts", token, map[string]string{"caption": "left behind"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = s.do(http.MethodPost, "/user/delete", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, resp := s.do(http.MethodGet, "/posts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed []map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Data, &feed))
	require.Len(t, feed, 1)
	require.Equal(t, "left behind", feed[0]["caption"])
	require.Contains(t, feed[0], "owner")
	require.Nil(t, feed[0]["owner"])
}

func TestRouter_Metrics(t *testing.T) {
	s := newTestServer(t)
	s.signup("a@x.com")
	rec, _ := s.do(http.MethodPost, "/user/forgot", "", map[string]string{"email": "a@x.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	s.issuer.Wait()

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "reset_tokens")
}
