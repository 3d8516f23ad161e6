package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/metrics"
	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/storage"
)

const (
	RelationUserPosts    = "user.posts"
	RelationUserComments = "user.comments"
	RelationPostComments = "post.comments"

	defaultBackrefAttempts = 2
	defaultBackrefBackoff  = 50 * time.Millisecond
)

var newestFirst = []storage.SortField{{Field: "created_at", Order: storage.Descending}}

type ContentGraphOptions struct {
	// BackrefAttempts bounds how often a back-reference append is tried.
	BackrefAttempts int
	BackrefBackoff  time.Duration
	Now             func() time.Time
	Metrics         *metrics.Metrics
}

// ContentGraph writes posts and comments and keeps the denormalized
// back-references (user.posts, user.comments, post.comments) in step. There
// are no multi-document transactions: the primary document is written first,
// and back-reference failures are reported as a PartialWriteError.
type ContentGraph struct {
	store    storage.Storage
	resolver *Resolver
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	attempts int
	backoff  time.Duration

	rich  *bluemonday.Policy
	plain *bluemonday.Policy
}

func NewContentGraph(store storage.Storage, log *logger.Logger, opts ContentGraphOptions) *ContentGraph {
	g := &ContentGraph{
		store:    store,
		resolver: NewResolver(store),
		log:      log.With("service", "ContentGraph"),
		metrics:  opts.Metrics,
		now:      opts.Now,
		attempts: opts.BackrefAttempts,
		backoff:  opts.BackrefBackoff,
		rich:     bluemonday.UGCPolicy(),
		plain:    bluemonday.StrictPolicy(),
	}
	if g.attempts < 1 {
		g.attempts = defaultBackrefAttempts
	}
	if g.backoff <= 0 {
		g.backoff = defaultBackrefBackoff
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

type CreatePostInput struct {
	Caption string
	Title   string
	ImageID *primitive.ObjectID
}

// CreatePost inserts the post, then appends it to the owner's posts. If the
// append fails the post is still returned, alongside a PartialWriteError.
func (g *ContentGraph) CreatePost(ctx context.Context, ownerID primitive.ObjectID, in CreatePostInput) (*models.Post, error) {
	const op = "services.ContentGraph.CreatePost"
	lg := g.log.With("op", op, "owner_id", ownerID.Hex())

	if in.ImageID != nil {
		if _, err := g.store.UploadByID(ctx, *in.ImageID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, NewValidationError(map[string]string{"image_id": "Image not found"})
			}
			return nil, storeErr(op, err)
		}
	}

	post := &models.Post{
		Owner:     ownerID,
		Caption:   strings.TrimSpace(g.rich.Sanitize(in.Caption)),
		Title:     strings.TrimSpace(g.plain.Sanitize(in.Title)),
		Image:     in.ImageID,
		Comments:  []primitive.ObjectID{},
		CreatedAt: stamp(g.now()),
	}
	if len(post.Caption) > models.MaxCaptionLength {
		return nil, NewValidationError(map[string]string{"caption": "Caption is too long"})
	}

	if err := g.store.CreatePost(ctx, post); err != nil {
		lg.Error("create post failed", "err", err)
		return nil, storeErr(op, err)
	}

	err := g.appendWithRetry(ctx, func(ctx context.Context) error {
		return g.store.AppendUserPost(ctx, ownerID, post.ID)
	})
	if err != nil {
		g.metrics.PartialWrite(RelationUserPosts)
		lg.Warn("back-reference append failed", "post_id", post.ID.Hex(), "relation", RelationUserPosts, "err", err)
		return post, &PartialWriteError{Primary: post.ID.Hex(), Failed: []string{RelationUserPosts}, Err: err}
	}

	lg.Info("post created", "post_id", post.ID.Hex())
	return post, nil
}

// PostComment inserts a comment on an existing post, then appends it to the
// owner's and the post's comment lists independently. A failure to insert the
// comment aborts; failed appends are reported through a PartialWriteError
// naming each relation that was not updated.
func (g *ContentGraph) PostComment(ctx context.Context, ownerID, postID primitive.ObjectID, content string) (*models.Comment, error) {
	const op = "services.ContentGraph.PostComment"
	lg := g.log.With("op", op, "owner_id", ownerID.Hex(), "post_id", postID.Hex())

	content = strings.TrimSpace(g.rich.Sanitize(content))
	if content == "" {
		return nil, NewValidationError(map[string]string{"content": "Comment cannot be empty"})
	}

	if _, err := g.store.PostByID(ctx, postID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("post %s: %w", postID.Hex(), ErrNotFound)
		}
		return nil, storeErr(op, err)
	}

	comment := &models.Comment{
		Owner:     ownerID,
		Post:      postID,
		Content:   content,
		CreatedAt: stamp(g.now()),
	}
	if err := g.store.CreateComment(ctx, comment); err != nil {
		lg.Error("create comment failed", "err", err)
		return nil, storeErr(op, err)
	}

	appends := []struct {
		relation string
		fn       func(ctx context.Context) error
	}{
		{RelationUserComments, func(ctx context.Context) error {
			return g.store.AppendUserComment(ctx, ownerID, comment.ID)
		}},
		{RelationPostComments, func(ctx context.Context) error {
			return g.store.AppendPostComment(ctx, postID, comment.ID)
		}},
	}

	var (
		failed []string
		errs   []error
	)
	for _, a := range appends {
		if err := g.appendWithRetry(ctx, a.fn); err != nil {
			g.metrics.PartialWrite(a.relation)
			lg.Warn("back-reference append failed", "comment_id", comment.ID.Hex(), "relation", a.relation, "err", err)
			failed = append(failed, a.relation)
			errs = append(errs, fmt.Errorf("%s: %w", a.relation, err))
		}
	}
	if len(failed) > 0 {
		return comment, &PartialWriteError{Primary: comment.ID.Hex(), Failed: failed, Err: errors.Join(errs...)}
	}

	return comment, nil
}

// appendWithRetry runs fn up to g.attempts times with linear backoff. A
// missing target is not retried.
func (g *ContentGraph) appendWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= g.attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrNotFound) || attempt == g.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(g.backoff * time.Duration(attempt)):
		}
	}
	return err
}

func (g *ContentGraph) PostByID(ctx context.Context, id primitive.ObjectID) (*models.Post, error) {
	const op = "services.ContentGraph.PostByID"

	post, err := g.store.PostByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr(op, err)
	}
	return post, nil
}

// Resolve exposes the population resolver for ad hoc views.
func (g *ContentGraph) Resolve(ctx context.Context, collection string, roots []bson.M, pops []Population) ([]bson.M, error) {
	return g.resolver.Resolve(ctx, collection, roots, pops)
}

// FeedPopulation: owner (profile, username), image, comments with their owner's username.
var FeedPopulation = []Population{
	{Path: "owner", Select: []string{"profile", "username"}},
	{Path: "image"},
	{Path: "comments", Populate: []Population{
		{Path: "owner", Select: []string{"username"}},
	}},
}

// ProfilePostsPopulation resolves a user's posts newest first with owner, image and comment owners.
var ProfilePostsPopulation = []Population{
	{Path: "posts", Sort: newestFirst, Populate: []Population{
		{Path: "owner"},
		{Path: "image"},
		{Path: "comments", Populate: []Population{
			{Path: "owner", Select: []string{"username"}},
		}},
	}},
}

// PublicProfilePopulation resolves a user's posts newest first with image and owner (profile, username).
var PublicProfilePopulation = []Population{
	{Path: "posts", Sort: newestFirst, Populate: []Population{
		{Path: "image"},
		{Path: "owner", Select: []string{"profile", "username"}},
	}},
}

// publicUserFields is what anonymous callers may see of a user document.
var publicUserFields = []string{"username", "profile", "posts", "created_at"}

// Feed returns every post, newest first.
func (g *ContentGraph) Feed(ctx context.Context) ([]bson.M, error) {
	const op = "services.ContentGraph.Feed"

	posts, err := g.store.FindDocuments(ctx, storage.CollectionPosts, bson.M{}, storage.FindOptions{Sort: newestFirst})
	if err != nil {
		return nil, storeErr(op, err)
	}
	return g.Resolve(ctx, storage.CollectionPosts, posts, FeedPopulation)
}

// ProfilePosts returns the posts listed on the user's document, newest first.
func (g *ContentGraph) ProfilePosts(ctx context.Context, userID primitive.ObjectID) ([]interface{}, error) {
	user, err := g.userView(ctx, bson.M{"_id": userID}, nil, ProfilePostsPopulation)
	if err != nil {
		return nil, err
	}
	posts, _ := user["posts"].([]interface{})
	if posts == nil {
		posts = []interface{}{}
	}
	return posts, nil
}

// PublicProfile returns the user found by username with its posts resolved.
func (g *ContentGraph) PublicProfile(ctx context.Context, username string) (bson.M, error) {
	return g.userView(ctx, bson.M{"username": username}, publicUserFields, PublicProfilePopulation)
}

func (g *ContentGraph) userView(ctx context.Context, filter bson.M, fields []string, pops []Population) (bson.M, error) {
	const op = "services.ContentGraph.userView"

	users, err := g.store.FindDocuments(ctx, storage.CollectionUsers, filter, storage.FindOptions{Fields: fields})
	if err != nil {
		return nil, storeErr(op, err)
	}
	if len(users) == 0 {
		return nil, ErrNoSuchAccount
	}
	resolved, err := g.Resolve(ctx, storage.CollectionUsers, users[:1], pops)
	if err != nil {
		return nil, err
	}
	return resolved[0], nil
}
