package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/storage"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func mustUser(t *testing.T, s *Store, email, username string) *models.User {
	t.Helper()
	u := &models.User{Email: email, Username: username, Password: "hash", CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.CreateUser(context.Background(), u))
	require.False(t, u.ID.IsZero())
	return u
}

func TestCreateUser_UniqueEmailAndUsername(t *testing.T) {
	s := New()
	mustUser(t, s, "a@x.com", "a")

	err := s.CreateUser(context.Background(), &models.User{Email: "a@x.com", Username: "other"})
	require.ErrorIs(t, err, storage.ErrConflict)

	err = s.CreateUser(context.Background(), &models.User{Email: "b@x.com", Username: "a"})
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestUserByID_ReturnsCopy(t *testing.T) {
	s := New()
	u := mustUser(t, s, "a@x.com", "a")

	got, err := s.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	got.Posts = append(got.Posts, primitive.NewObjectID())

	again, err := s.UserByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Empty(t, again.Posts)
}

func TestAppend_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustUser(t, s, "a@x.com", "a")
	postID := primitive.NewObjectID()

	require.NoError(t, s.AppendUserPost(ctx, u.ID, postID))
	require.NoError(t, s.AppendUserPost(ctx, u.ID, postID))

	got, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []primitive.ObjectID{postID}, got.Posts)

	require.ErrorIs(t, s.AppendUserComment(ctx, primitive.NewObjectID(), postID), storage.ErrNotFound)
	require.ErrorIs(t, s.AppendPostComment(ctx, primitive.NewObjectID(), postID), storage.ErrNotFound)
}

func TestResetToken_ExpiryIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustUser(t, s, "a@x.com", "a")
	exp := t0.Add(time.Hour)
	require.NoError(t, s.SetResetToken(ctx, u.ID, "digest", exp))

	_, err := s.UserByResetToken(ctx, "digest", exp.Add(-time.Millisecond))
	require.NoError(t, err)

	_, err = s.UserByResetToken(ctx, "digest", exp)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.UserByResetToken(ctx, "other", t0)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConsumeResetToken_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustUser(t, s, "a@x.com", "a")
	require.NoError(t, s.SetResetToken(ctx, u.ID, "digest", t0.Add(time.Hour)))

	const callers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeResetToken(ctx, "digest", t0, "newhash"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	got, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "newhash", got.Password)
	require.Empty(t, got.ResetToken)
	require.Nil(t, got.ResetTokenExpiresAt)
}

func TestLinkAndUnlinkIdentity(t *testing.T) {
	ctx := context.Background()
	s := New()
	u := mustUser(t, s, "a@x.com", "a")

	_, err := s.LinkIdentity(ctx, u.ID, models.LinkedIdentity{Provider: "facebook", Subject: "1", AccessToken: "old"})
	require.NoError(t, err)
	got, err := s.LinkIdentity(ctx, u.ID, models.LinkedIdentity{Provider: "facebook", Subject: "1", AccessToken: "new"})
	require.NoError(t, err)
	require.Len(t, got.Identities, 1)
	require.Equal(t, "new", got.Identities[0].AccessToken)

	got, err = s.UnlinkIdentity(ctx, u.ID, "facebook")
	require.NoError(t, err)
	require.Empty(t, got.Identities)
}

func TestFindDocuments_FilterSortProject(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner := mustUser(t, s, "a@x.com", "a")

	var ids []primitive.ObjectID
	for i := 0; i < 3; i++ {
		p := &models.Post{Owner: owner.ID, Caption: "p", CreatedAt: t0.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.CreatePost(ctx, p))
		ids = append(ids, p.ID)
	}

	docs, err := s.FindDocuments(ctx, storage.CollectionPosts,
		bson.M{"_id": bson.M{"$in": []primitive.ObjectID{ids[0], ids[2]}}},
		storage.FindOptions{Sort: []storage.SortField{{Field: "created_at", Order: storage.Descending}}})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, ids[2], docs[0]["_id"])
	require.Equal(t, ids[0], docs[1]["_id"])

	docs, err = s.FindDocuments(ctx, storage.CollectionUsers, bson.M{"_id": owner.ID}, storage.FindOptions{Fields: []string{"username"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, bson.M{"_id": owner.ID, "username": "a"}, docs[0])

	_, err = s.FindDocuments(ctx, "nope", bson.M{}, storage.FindOptions{})
	require.Error(t, err)
}

func TestFindDocuments_DescendingTiesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner := mustUser(t, s, "a@x.com", "a")

	var ids []primitive.ObjectID
	for i := 0; i < 3; i++ {
		p := &models.Post{Owner: owner.ID, Caption: "p", CreatedAt: t0}
		require.NoError(t, s.CreatePost(ctx, p))
		ids = append(ids, p.ID)
	}

	docs, err := s.FindDocuments(ctx, storage.CollectionPosts, bson.M{},
		storage.FindOptions{Sort: []storage.SortField{{Field: "created_at", Order: storage.Descending}}})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	require.Equal(t, []interface{}{ids[2], ids[1], ids[0]}, []interface{}{docs[0]["_id"], docs[1]["_id"], docs[2]["_id"]})

	docs, err = s.FindDocuments(ctx, storage.CollectionPosts, bson.M{},
		storage.FindOptions{Sort: []storage.SortField{{Field: "created_at", Order: storage.Ascending}}})
	require.NoError(t, err)
	require.Equal(t, ids[0], docs[0]["_id"])
	require.Equal(t, ids[2], docs[2]["_id"])
}

func TestPersistent_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewPersistent(dir)
	require.NoError(t, err)
	u := mustUser(t, s, "a@x.com", "a")
	p := &models.Post{Owner: u.ID, Caption: "hello", CreatedAt: t0}
	require.NoError(t, s.CreatePost(ctx, p))
	require.NoError(t, s.AppendUserPost(ctx, u.ID, p.ID))
	require.NoError(t, s.Close(ctx))

	restored, err := NewPersistent(dir)
	require.NoError(t, err)

	got, err := restored.UserByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.Equal(t, "hash", got.Password)
	require.Equal(t, []primitive.ObjectID{p.ID}, got.Posts)

	post, err := restored.PostByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", post.Caption)
	require.True(t, t0.Equal(post.CreatedAt))
}
