package memory

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/storage"
)

func (s *Store) CreatePost(ctx context.Context, p *models.Post) error {
	s.mu.Lock()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	s.posts[p.ID] = clonePost(p)
	s.track(p.ID)
	s.mu.Unlock()

	return s.persist()
}

func (s *Store) PostByID(ctx context.Context, id primitive.ObjectID) (*models.Post, error) {
	const op = "storage/memory/PostByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return clonePost(p), nil
}

func (s *Store) AppendPostComment(ctx context.Context, postID, commentID primitive.ObjectID) error {
	const op = "storage/memory/AppendPostComment"

	s.mu.Lock()
	p, ok := s.posts[postID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	p.Comments = addToSet(p.Comments, commentID)
	s.mu.Unlock()

	return s.persist()
}

func (s *Store) CreateComment(ctx context.Context, c *models.Comment) error {
	s.mu.Lock()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	stored := *c
	s.comments[c.ID] = &stored
	s.track(c.ID)
	s.mu.Unlock()

	return s.persist()
}

func (s *Store) CommentByID(ctx context.Context, id primitive.ObjectID) (*models.Comment, error) {
	const op = "storage/memory/CommentByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	out := *c
	return &out, nil
}

func (s *Store) CreateUpload(ctx context.Context, up *models.Upload) error {
	s.mu.Lock()
	if up.ID.IsZero() {
		up.ID = primitive.NewObjectID()
	}
	stored := *up
	s.uploads[up.ID] = &stored
	s.track(up.ID)
	s.mu.Unlock()

	return s.persist()
}

func (s *Store) UploadByID(ctx context.Context, id primitive.ObjectID) (*models.Upload, error) {
	const op = "storage/memory/UploadByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	up, ok := s.uploads[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	out := *up
	return &out, nil
}
