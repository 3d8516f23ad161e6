package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/storage"
)

func (m *Mongo) CreatePost(ctx context.Context, p *models.Post) error {
	const op = "storage/mongo/CreatePost"

	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	if p.Comments == nil {
		p.Comments = []primitive.ObjectID{}
	}
	_, err := m.posts.InsertOne(ctx, p)
	return mapErr(op, err)
}

func (m *Mongo) PostByID(ctx context.Context, id primitive.ObjectID) (*models.Post, error) {
	const op = "storage/mongo/PostByID"

	var p models.Post
	if err := m.posts.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, mapErr(op, err)
	}
	return &p, nil
}

func (m *Mongo) AppendPostComment(ctx context.Context, postID, commentID primitive.ObjectID) error {
	const op = "storage/mongo/AppendPostComment"

	res, err := m.posts.UpdateOne(ctx, bson.M{"_id": postID}, bson.M{"$addToSet": bson.M{"comments": commentID}})
	return requireMatch(op, res, err)
}

func (m *Mongo) CreateComment(ctx context.Context, c *models.Comment) error {
	const op = "storage/mongo/CreateComment"

	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	_, err := m.comments.InsertOne(ctx, c)
	return mapErr(op, err)
}

func (m *Mongo) CommentByID(ctx context.Context, id primitive.ObjectID) (*models.Comment, error) {
	const op = "storage/mongo/CommentByID"

	var c models.Comment
	if err := m.comments.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		return nil, mapErr(op, err)
	}
	return &c, nil
}

func (m *Mongo) CreateUpload(ctx context.Context, up *models.Upload) error {
	const op = "storage/mongo/CreateUpload"

	if up.ID.IsZero() {
		up.ID = primitive.NewObjectID()
	}
	_, err := m.uploads.InsertOne(ctx, up)
	return mapErr(op, err)
}

func (m *Mongo) UploadByID(ctx context.Context, id primitive.ObjectID) (*models.Upload, error) {
	const op = "storage/mongo/UploadByID"

	var up models.Upload
	if err := m.uploads.FindOne(ctx, bson.M{"_id": id}).Decode(&up); err != nil {
		return nil, mapErr(op, err)
	}
	return &up, nil
}

func (m *Mongo) FindDocuments(ctx context.Context, collection string, filter bson.M, opts storage.FindOptions) ([]bson.M, error) {
	const op = "storage/mongo/FindDocuments"

	col, err := m.collection(collection)
	if err != nil {
		return nil, mapErr(op, err)
	}

	findOpts := options.Find()
	if len(opts.Sort) > 0 {
		sort := bson.D{}
		byID := false
		for _, sf := range opts.Sort {
			sort = append(sort, bson.E{Key: sf.Field, Value: sf.Order})
			byID = byID || sf.Field == "_id"
		}
		// ObjectIDs grow with insertion, so ties break the same way as the memory driver
		if !byID {
			sort = append(sort, bson.E{Key: "_id", Value: opts.Sort[0].Order})
		}
		findOpts.SetSort(sort)
	}
	if len(opts.Fields) > 0 {
		projection := bson.M{}
		for _, f := range opts.Fields {
			projection[f] = 1
		}
		findOpts.SetProjection(projection)
	}

	cur, err := col.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer cur.Close(ctx)

	out := make([]bson.M, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, mapErr(op, err)
	}
	return out, nil
}
