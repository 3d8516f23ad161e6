package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Upload describes a stored image. Location points at the binary, not the bytes themselves.
type Upload struct {
	ID          primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Name        string             `json:"name" bson:"name"`
	Location    string             `json:"location" bson:"location"`
	ContentType string             `json:"content_type" bson:"content_type"`
	Size        int64              `json:"size" bson:"size"`
	Owner       primitive.ObjectID `json:"owner" bson:"owner"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
