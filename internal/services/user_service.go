package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/shutterfeed/backend/internal/models"
	"github.com/shutterfeed/backend/internal/pkg/logger"
	"github.com/shutterfeed/backend/internal/storage"
)

type UserService struct {
	users storage.Users
	log   *logger.Logger
	now   func() time.Time
}

func NewUserService(users storage.Users, log *logger.Logger, now func() time.Time) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{
		users: users,
		log:   log.With("service", "UserService"),
		now:   now,
	}
}

// Register creates an account whose username defaults to the email local part.
func (s *UserService) Register(ctx context.Context, req models.SignupRequest) (*models.User, error) {
	const op = "services.UserService.Register"

	req.Normalize()
	if errs := req.Validate(); len(errs) > 0 {
		return nil, NewValidationError(errs)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := stamp(s.now())
	user := &models.User{
		Email:      req.Email,
		Username:   models.UsernameFromEmail(req.Email),
		Password:   string(hashedPassword),
		Posts:      []primitive.ObjectID{},
		Comments:   []primitive.ObjectID{},
		Identities: []models.LinkedIdentity{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.log.Warn("duplicate signup", "op", op, "email", req.Email)
			return nil, ErrDuplicateAccount
		}
		s.log.Error("create user failed", "op", op, "err", err)
		return nil, storeErr(op, err)
	}

	s.log.Info("user registered", "op", op, "user_id", user.ID.Hex())
	return user, nil
}

func (s *UserService) Login(ctx context.Context, req models.LoginRequest) (*models.User, error) {
	const op = "services.UserService.Login"

	req.Normalize()
	if errs := req.Validate(); len(errs) > 0 {
		return nil, NewValidationError(errs)
	}

	user, err := s.users.UserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(op, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	const op = "services.UserService.GetByID"

	user, err := s.users.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoSuchAccount
		}
		return nil, storeErr(op, err)
	}
	return user, nil
}

func (s *UserService) UpdateProfile(ctx context.Context, id primitive.ObjectID, req models.UpdateProfileRequest) (*models.User, error) {
	const op = "services.UserService.UpdateProfile"

	req.Normalize()
	if errs := req.Validate(); len(errs) > 0 {
		return nil, NewValidationError(errs)
	}

	user, err := s.users.UpdateUser(ctx, id, storage.UserUpdate{
		Email:     req.Email,
		Username:  req.Username,
		Name:      req.Name,
		Gender:    req.Gender,
		Location:  req.Location,
		Website:   req.Website,
		UpdatedAt: stamp(s.now()),
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrConflict):
			return nil, ErrDuplicateAccount
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrNoSuchAccount
		}
		s.log.Error("update profile failed", "op", op, "user_id", id.Hex(), "err", err)
		return nil, storeErr(op, err)
	}
	return user, nil
}

func (s *UserService) UpdatePassword(ctx context.Context, id primitive.ObjectID, req models.UpdatePasswordRequest) error {
	const op = "services.UserService.UpdatePassword"

	if errs := req.Validate(); len(errs) > 0 {
		return NewValidationError(errs)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := s.users.SetUserPassword(ctx, id, string(hashedPassword), stamp(s.now())); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNoSuchAccount
		}
		return storeErr(op, err)
	}
	return nil
}

// Delete removes only the user document. Posts and comments stay behind and
// resolve their owner to nil.
func (s *UserService) Delete(ctx context.Context, id primitive.ObjectID) error {
	const op = "services.UserService.Delete"

	if err := s.users.DeleteUser(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNoSuchAccount
		}
		return storeErr(op, err)
	}
	s.log.Info("user deleted", "op", op, "user_id", id.Hex())
	return nil
}

func (s *UserService) LinkIdentity(ctx context.Context, id primitive.ObjectID, identity models.LinkedIdentity) (*models.User, error) {
	const op = "services.UserService.LinkIdentity"

	identity.LinkedAt = stamp(s.now())
	if !identity.ExpiresAt.IsZero() {
		identity.ExpiresAt = stamp(identity.ExpiresAt)
	}
	user, err := s.users.LinkIdentity(ctx, id, identity)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoSuchAccount
		}
		return nil, storeErr(op, err)
	}
	return user, nil
}

func (s *UserService) UnlinkIdentity(ctx context.Context, id primitive.ObjectID, provider string) (*models.User, error) {
	const op = "services.UserService.UnlinkIdentity"

	user, err := s.users.UnlinkIdentity(ctx, id, provider)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoSuchAccount
		}
		return nil, storeErr(op, err)
	}
	return user, nil
}
