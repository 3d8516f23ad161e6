package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/storage"
	"github.com/shutterfeed/backend/internal/storage/memory"
)

var baseTime = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: baseTime} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errInjected = errors.New("injected store failure")

// faultyStore fails selected operations a fixed number of times (-1 = always).
type faultyStore struct {
	storage.Storage

	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
}

func newFaultyStore(inner storage.Storage) *faultyStore {
	return &faultyStore{Storage: inner, failures: map[string]int{}, calls: map[string]int{}}
}

func (f *faultyStore) failN(op string, n int) {
	f.mu.Lock()
	f.failures[op] = n
	f.mu.Unlock()
}

func (f *faultyStore) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *faultyStore) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	n := f.failures[op]
	switch {
	case n < 0:
		return errInjected
	case n > 0:
		f.failures[op] = n - 1
		return errInjected
	}
	return nil
}

func (f *faultyStore) AppendUserPost(ctx context.Context, userID, postID primitive.ObjectID) error {
	if err := f.hit("AppendUserPost"); err != nil {
		return err
	}
	return f.Storage.AppendUserPost(ctx, userID, postID)
}

func (f *faultyStore) AppendUserComment(ctx context.Context, userID, commentID primitive.ObjectID) error {
	if err := f.hit("AppendUserComment"); err != nil {
		return err
	}
	return f.Storage.AppendUserComment(ctx, userID, commentID)
}

func (f *faultyStore) AppendPostComment(ctx context.Context, postID, commentID primitive.ObjectID) error {
	if err := f.hit("AppendPostComment"); err != nil {
		return err
	}
	return f.Storage.AppendPostComment(ctx, postID, commentID)
}

func (f *faultyStore) CreateComment(ctx context.Context, c *models.Comment) error {
	if err := f.hit("CreateComment"); err != nil {
		return err
	}
	return f.Storage.CreateComment(ctx, c)
}

func (f *faultyStore) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (*models.User, error) {
	if err := f.hit("ConsumeResetToken"); err != nil {
		return nil, err
	}
	return f.Storage.ConsumeResetToken(ctx, tokenHash, now, passwordHash)
}

func mustRegister(t *testing.T, users *UserService, email string) *models.User {
	t.Helper()
	u, err := users.Register(context.Background(), models.SignupRequest{
		Email: email, Password: "secret", ConfirmPassword: "secret",
	})
	require.NoError(t, err)
	return u
}

func newTestUsers(store storage.Users, clock *fakeClock) *UserService {
	return NewUserService(store, logger.NewNop(), clock.Now)
}

func newTestGraph(store storage.Storage, clock *fakeClock) *ContentGraph {
	return NewContentGraph(store, logger.NewNop(), ContentGraphOptions{
		BackrefAttempts: 2,
		BackrefBackoff:  time.Millisecond,
		Now:             clock.Now,
	})
}

func newMemory() *memory.Store { return memory.New() }
