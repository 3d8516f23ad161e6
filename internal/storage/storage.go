// Package storage declares the document store contract shared by the mongo
// and memory drivers.
package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
)

const (
	CollectionUsers    = "users"
	CollectionPosts    = "posts"
	CollectionComments = "comments"
	CollectionUploads  = "uploads"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const (
	Ascending  = 1
	Descending = -1
)

type SortField struct {
	Field string
	Order int
}

// FindOptions narrows FindDocuments. Empty Fields returns whole documents;
// _id is always returned.
type FindOptions struct {
	Sort   []SortField
	Fields []string
}

// UserUpdate lists profile fields to overwrite. Nil pointers are skipped.
type UserUpdate struct {
	Email     *string
	Username  *string
	Name      *string
	Gender    *string
	Location  *string
	Website   *string
	UpdatedAt time.Time
}

type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, id primitive.ObjectID, upd UserUpdate) (*models.User, error)
	SetUserPassword(ctx context.Context, id primitive.ObjectID, passwordHash string, now time.Time) error
	DeleteUser(ctx context.Context, id primitive.ObjectID) error

	AppendUserPost(ctx context.Context, userID, postID primitive.ObjectID) error
	AppendUserComment(ctx context.Context, userID, commentID primitive.ObjectID) error

	SetResetToken(ctx context.Context, userID primitive.ObjectID, tokenHash string, expiresAt time.Time) error
	// UserByResetToken matches only a token whose expiry is strictly after now.
	UserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error)
	// ConsumeResetToken atomically swaps the password and clears both token
	// fields, provided the token is still present and unexpired at now.
	ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (*models.User, error)

	LinkIdentity(ctx context.Context, userID primitive.ObjectID, identity models.LinkedIdentity) (*models.User, error)
	UnlinkIdentity(ctx context.Context, userID primitive.ObjectID, provider string) (*models.User, error)
}

type Posts interface {
	CreatePost(ctx context.Context, p *models.Post) error
	PostByID(ctx context.Context, id primitive.ObjectID) (*models.Post, error)
	AppendPostComment(ctx context.Context, postID, commentID primitive.ObjectID) error
}

type Comments interface {
	CreateComment(ctx context.Context, c *models.Comment) error
	CommentByID(ctx context.Context, id primitive.ObjectID) (*models.Comment, error)
}

type Uploads interface {
	CreateUpload(ctx context.Context, u *models.Upload) error
	UploadByID(ctx context.Context, id primitive.ObjectID) (*models.Upload, error)
}

// Documents is the untyped read path used by relation population.
type Documents interface {
	FindDocuments(ctx context.Context, collection string, filter bson.M, opts FindOptions) ([]bson.M, error)
}

type Storage interface {
	Users
	Posts
	Comments
	Uploads
	Documents

	Close(ctx context.Context) error
}
