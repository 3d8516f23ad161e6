package memory

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/storage"
)

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	const op = "storage/memory/CreateUser"

	s.mu.Lock()
	for _, other := range s.users {
		if other.Email == u.Email || other.Username == u.Username {
			s.mu.Unlock()
			return fmt.Errorf("%s: %w", op, storage.ErrConflict)
		}
	}
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	stored := cloneUser(u)
	s.users[u.ID] = stored
	s.track(u.ID)
	s.mu.Unlock()

	return s.persist()
}

func (s *Store) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	const op = "storage/memory/UserByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return cloneUser(u), nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser("storage/memory/UserByEmail", func(u *models.User) bool { return u.Email == email })
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.findUser("storage/memory/UserByUsername", func(u *models.User) bool { return u.Username == username })
}

func (s *Store) UserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	return s.findUser("storage/memory/UserByResetToken", func(u *models.User) bool {
		return resetTokenMatches(u, tokenHash, now)
	})
}

func (s *Store) findUser(op string, match func(u *models.User) bool) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
}

func resetTokenMatches(u *models.User, tokenHash string, now time.Time) bool {
	return tokenHash != "" &&
		u.ResetToken == tokenHash &&
		u.ResetTokenExpiresAt != nil &&
		u.ResetTokenExpiresAt.After(now)
}

func (s *Store) UpdateUser(ctx context.Context, id primitive.ObjectID, upd storage.UserUpdate) (*models.User, error) {
	const op = "storage/memory/UpdateUser"

	s.mu.Lock()
	u, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	for otherID, other := range s.users {
		if otherID == id {
			continue
		}
		if (upd.Email != nil && other.Email == *upd.Email) || (upd.Username != nil && other.Username == *upd.Username) {
			s.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", op, storage.ErrConflict)
		}
	}

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&u.Email, upd.Email)
	set(&u.Username, upd.Username)
	set(&u.Profile.Name, upd.Name)
	set(&u.Profile.Gender, upd.Gender)
	set(&u.Profile.Location, upd.Location)
	set(&u.Profile.Website, upd.Website)
	u.UpdatedAt = upd.UpdatedAt
	out := cloneUser(u)
	s.mu.Unlock()

	return out, s.persist()
}

func (s *Store) SetUserPassword(ctx context.Context, id primitive.ObjectID, passwordHash string, now time.Time) error {
	return s.mutateUser("storage/memory/SetUserPassword", id, func(u *models.User) {
		u.Password = passwordHash
		u.UpdatedAt = now
	})
}

func (s *Store) DeleteUser(ctx context.Context, id primitive.ObjectID) error {
	const op = "storage/memory/DeleteUser"

	s.mu.Lock()
	if _, ok := s.users[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	delete(s.users, id)
	delete(s.order, id)
	s.mu.Unlock()

	return s.persist()
}

func (s *Store) AppendUserPost(ctx context.Context, userID, postID primitive.ObjectID) error {
	return s.mutateUser("storage/memory/AppendUserPost", userID, func(u *models.User) {
		u.Posts = addToSet(u.Posts, postID)
	})
}

func (s *Store) AppendUserComment(ctx context.Context, userID, commentID primitive.ObjectID) error {
	return s.mutateUser("storage/memory/AppendUserComment", userID, func(u *models.User) {
		u.Comments = addToSet(u.Comments, commentID)
	})
}

func (s *Store) SetResetToken(ctx context.Context, userID primitive.ObjectID, tokenHash string, expiresAt time.Time) error {
	return s.mutateUser("storage/memory/SetResetToken", userID, func(u *models.User) {
		exp := expiresAt
		u.ResetToken = tokenHash
		u.ResetTokenExpiresAt = &exp
	})
}

func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (*models.User, error) {
	const op = "storage/memory/ConsumeResetToken"

	s.mu.Lock()
	var found *models.User
	for _, u := range s.users {
		if resetTokenMatches(u, tokenHash, now) {
			found = u
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	found.Password = passwordHash
	found.ResetToken = ""
	found.ResetTokenExpiresAt = nil
	found.UpdatedAt = now
	out := cloneUser(found)
	s.mu.Unlock()

	return out, s.persist()
}

func (s *Store) LinkIdentity(ctx context.Context, userID primitive.ObjectID, identity models.LinkedIdentity) (*models.User, error) {
	return s.mutateUserReturning("storage/memory/LinkIdentity", userID, func(u *models.User) {
		for i := range u.Identities {
			if u.Identities[i].Provider == identity.Provider {
				u.Identities[i] = identity
				return
			}
		}
		u.Identities = append(u.Identities, identity)
	})
}

func (s *Store) UnlinkIdentity(ctx context.Context, userID primitive.ObjectID, provider string) (*models.User, error) {
	return s.mutateUserReturning("storage/memory/UnlinkIdentity", userID, func(u *models.User) {
		kept := u.Identities[:0]
		for _, li := range u.Identities {
			if li.Provider != provider {
				kept = append(kept, li)
			}
		}
		u.Identities = kept
	})
}

func (s *Store) mutateUser(op string, id primitive.ObjectID, fn func(u *models.User)) error {
	_, err := s.mutateUserReturning(op, id, fn)
	return err
}

func (s *Store) mutateUserReturning(op string, id primitive.ObjectID, fn func(u *models.User)) (*models.User, error) {
	s.mu.Lock()
	u, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	fn(u)
	out := cloneUser(u)
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		return nil, err
	}
	return out, nil
}
