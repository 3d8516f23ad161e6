package mongo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/shutterfeed/backend/internal/config"
	"github.com/shutterfeed/backend/internal/storage"
)

// Mongo implements storage.Storage on top of a single database.
type Mongo struct {
	client   *mongodriver.Client
	db       *mongodriver.Database
	users    *mongodriver.Collection
	posts    *mongodriver.Collection
	comments *mongodriver.Collection
	uploads  *mongodriver.Collection
}

// New connects, pings the primary and makes sure the indexes exist.
func New(ctx context.Context, cfg config.StoreConfig) (*Mongo, error) {
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("mongo: empty uri")
	}

	clientOpts := options.Client().ApplyURI(cfg.MongoURI)
	if cfg.MongoTLS {
		clientOpts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	cli, err := mongodriver.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := cli.Database(cfg.MongoDB)
	m := &Mongo{
		client:   cli,
		db:       db,
		users:    db.Collection(storage.CollectionUsers),
		posts:    db.Collection(storage.CollectionPosts),
		comments: db.Collection(storage.CollectionComments),
		uploads:  db.Collection(storage.CollectionUploads),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		_ = m.Close(ctx)
		return nil, err
	}

	return m, nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	indexes := map[*mongodriver.Collection][]mongodriver.IndexModel{
		m.users: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetName("uniq_email").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "username", Value: 1}},
				Options: options.Index().SetName("uniq_username").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "reset_token", Value: 1}},
				Options: options.Index().SetName("reset_token").SetSparse(true),
			},
		},
		m.posts: {
			{
				Keys:    bson.D{{Key: "created_at", Value: -1}},
				Options: options.Index().SetName("created_desc"),
			},
			{
				Keys:    bson.D{{Key: "owner", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("owner_created_desc"),
			},
		},
		m.comments: {
			{
				Keys:    bson.D{{Key: "post", Value: 1}, {Key: "created_at", Value: 1}},
				Options: options.Index().SetName("post_created_asc"),
			},
			{
				Keys:    bson.D{{Key: "owner", Value: 1}},
				Options: options.Index().SetName("owner"),
			},
		},
		m.uploads: {
			{
				Keys:    bson.D{{Key: "owner", Value: 1}},
				Options: options.Index().SetName("owner"),
			},
		},
	}

	for col, models := range indexes {
		if _, err := col.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongo ensure indexes on %s: %w", col.Name(), err)
		}
	}
	return nil
}

func (m *Mongo) collection(name string) (*mongodriver.Collection, error) {
	switch name {
	case storage.CollectionUsers:
		return m.users, nil
	case storage.CollectionPosts:
		return m.posts, nil
	case storage.CollectionComments:
		return m.comments, nil
	case storage.CollectionUploads:
		return m.uploads, nil
	}
	return nil, fmt.Errorf("unknown collection %q", name)
}

// mapErr translates driver errors into storage sentinels.
func mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongodriver.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case mongodriver.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", op, storage.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// requireMatch turns an update that matched nothing into ErrNotFound.
func requireMatch(op string, res *mongodriver.UpdateResult, err error) error {
	if err != nil {
		return mapErr(op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}
