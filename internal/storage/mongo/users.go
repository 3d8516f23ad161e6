package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/storage"
)

var returnAfter = options.FindOneAndUpdate().SetReturnDocument(options.After)

func (m *Mongo) CreateUser(ctx context.Context, u *models.User) error {
	const op = "storage/mongo/CreateUser"

	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	// Back-reference arrays must exist so $addToSet never meets null.
	if u.Posts == nil {
		u.Posts = []primitive.ObjectID{}
	}
	if u.Comments == nil {
		u.Comments = []primitive.ObjectID{}
	}
	if u.Identities == nil {
		u.Identities = []models.LinkedIdentity{}
	}

	_, err := m.users.InsertOne(ctx, u)
	return mapErr(op, err)
}

func (m *Mongo) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return m.findUser(ctx, "storage/mongo/UserByID", bson.M{"_id": id})
}

func (m *Mongo) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUser(ctx, "storage/mongo/UserByEmail", bson.M{"email": email})
}

func (m *Mongo) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.findUser(ctx, "storage/mongo/UserByUsername", bson.M{"username": username})
}

func (m *Mongo) UserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	const op = "storage/mongo/UserByResetToken"
	if tokenHash == "" {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return m.findUser(ctx, op, resetTokenFilter(tokenHash, now))
}

func resetTokenFilter(tokenHash string, now time.Time) bson.M {
	return bson.M{
		"reset_token":            tokenHash,
		"reset_token_expires_at": bson.M{"$gt": now},
	}
}

func (m *Mongo) findUser(ctx context.Context, op string, filter bson.M) (*models.User, error) {
	var u models.User
	if err := m.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, mapErr(op, err)
	}
	return &u, nil
}

func (m *Mongo) UpdateUser(ctx context.Context, id primitive.ObjectID, upd storage.UserUpdate) (*models.User, error) {
	const op = "storage/mongo/UpdateUser"

	set := bson.M{"updated_at": upd.UpdatedAt}
	put := func(key string, v *string) {
		if v != nil {
			set[key] = *v
		}
	}
	put("email", upd.Email)
	put("username", upd.Username)
	put("profile.name", upd.Name)
	put("profile.gender", upd.Gender)
	put("profile.location", upd.Location)
	put("profile.website", upd.Website)

	var u models.User
	err := m.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, returnAfter).Decode(&u)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return &u, nil
}

func (m *Mongo) SetUserPassword(ctx context.Context, id primitive.ObjectID, passwordHash string, now time.Time) error {
	const op = "storage/mongo/SetUserPassword"

	res, err := m.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"password": passwordHash, "updated_at": now},
	})
	return requireMatch(op, res, err)
}

func (m *Mongo) DeleteUser(ctx context.Context, id primitive.ObjectID) error {
	const op = "storage/mongo/DeleteUser"

	res, err := m.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapErr(op, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

func (m *Mongo) AppendUserPost(ctx context.Context, userID, postID primitive.ObjectID) error {
	const op = "storage/mongo/AppendUserPost"

	res, err := m.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$addToSet": bson.M{"posts": postID}})
	return requireMatch(op, res, err)
}

func (m *Mongo) AppendUserComment(ctx context.Context, userID, commentID primitive.ObjectID) error {
	const op = "storage/mongo/AppendUserComment"

	res, err := m.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$addToSet": bson.M{"comments": commentID}})
	return requireMatch(op, res, err)
}

func (m *Mongo) SetResetToken(ctx context.Context, userID primitive.ObjectID, tokenHash string, expiresAt time.Time) error {
	const op = "storage/mongo/SetResetToken"

	res, err := m.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$set": bson.M{"reset_token": tokenHash, "reset_token_expires_at": expiresAt},
	})
	return requireMatch(op, res, err)
}

// ConsumeResetToken is a single conditional FindOneAndUpdate: of two racing
// callers only one can still match the token.
func (m *Mongo) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (*models.User, error) {
	const op = "storage/mongo/ConsumeResetToken"
	if tokenHash == "" {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	update := bson.M{
		"$set":   bson.M{"password": passwordHash, "updated_at": now},
		"$unset": bson.M{"reset_token": "", "reset_token_expires_at": ""},
	}

	var u models.User
	if err := m.users.FindOneAndUpdate(ctx, resetTokenFilter(tokenHash, now), update, returnAfter).Decode(&u); err != nil {
		return nil, mapErr(op, err)
	}
	return &u, nil
}

func (m *Mongo) LinkIdentity(ctx context.Context, userID primitive.ObjectID, identity models.LinkedIdentity) (*models.User, error) {
	const op = "storage/mongo/LinkIdentity"

	var u models.User
	err := m.users.FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "identities.provider": identity.Provider},
		bson.M{"$set": bson.M{"identities.$": identity}},
		returnAfter,
	).Decode(&u)
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, mongodriver.ErrNoDocuments) {
		return nil, mapErr(op, err)
	}

	err = m.users.FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "identities.provider": bson.M{"$ne": identity.Provider}},
		bson.M{"$push": bson.M{"identities": identity}},
		returnAfter,
	).Decode(&u)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return &u, nil
}

func (m *Mongo) UnlinkIdentity(ctx context.Context, userID primitive.ObjectID, provider string) (*models.User, error) {
	const op = "storage/mongo/UnlinkIdentity"

	var u models.User
	err := m.users.FindOneAndUpdate(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"identities": bson.M{"provider": provider}}},
		returnAfter,
	).Decode(&u)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return &u, nil
}
