package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const MaxCaptionLength = 2200

type Post struct {
	ID       primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	Owner    primitive.ObjectID   `json:"owner" bson:"owner"`
	Caption  string               `json:"caption" bson:"caption"`
	Title    string               `json:"title,omitempty" bson:"title,omitempty"`
	Image    *primitive.ObjectID  `json:"image,omitempty" bson:"image,omitempty"`
	Comments []primitive.ObjectID `json:"comments" bson:"comments"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type Comment struct {
	ID      primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Owner   primitive.ObjectID `json:"owner" bson:"owner"`
	Post    primitive.ObjectID `json:"post" bson:"post"`
	Content string             `json:"content" bson:"content"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type CreatePostRequest struct {
	Caption string `json:"caption"`
	Title   string `json:"title"`
	ImageID string `json:"image_id"`
}

func (r *CreatePostRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if len(r.Caption) > MaxCaptionLength {
		errors["caption"] = "Caption is too long"
	}
	if r.ImageID != "" && !primitive.IsValidObjectID(r.ImageID) {
		errors["image_id"] = "Invalid image id"
	}

	return errors
}

type CreateCommentRequest struct {
	Content string `json:"content"`
}

func (r *CreateCommentRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if strings.TrimSpace(r.Content) == "" {
		errors["content"] = "Comment cannot be empty"
	}
	return errors
}
