package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"discourse/internal/database"
	"discourse/internal/models"
	"discourse/pkg/auth"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// UserService handles account creation and credential checks.
type UserService struct {
	db       *database.MongoDB
	profiles *ProfileService
}

// NewUserService creates a user service.
func NewUserService(db *database.MongoDB, profiles *ProfileService) *UserService {
	return &UserService{db: db, profiles: profiles}
}

// Register creates a user account and its initial profile.
func (s *UserService) Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrValidation)
	}

	if err := auth.ValidatePassword(req.Password); err != nil {
		return nil, err
	}

	role := req.Role
	if role != models.RoleTeacher {
		role = models.RoleStudent
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		LastLoginAt:  now,
	}

	result, err := s.db.Collection(database.CollectionUsers).InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	user.ID = result.InsertedID.(primitive.ObjectID)

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = strings.SplitN(email, "@", 2)[0]
	}
	if _, err := s.profiles.Create(ctx, user.ID.Hex(), displayName); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	return user, nil
}

// Authenticate checks credentials and stamps the login time.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.Collection(database.CollectionUsers).
		FindOne(ctx, bson.M{"email": email}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ok, err := auth.VerifyPassword(user.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrForbidden
	}

	_, err = s.db.Collection(database.CollectionUsers).
		UpdateByID(ctx, user.ID, bson.M{"$set": bson.M{"lastLoginAt": time.Now().UTC()}})
	if err != nil {
		return nil, fmt.Errorf("failed to stamp login time: %w", err)
	}

	return &user, nil
}
