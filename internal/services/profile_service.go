package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"discourse/internal/database"
	"discourse/internal/models"

	"github.com/patrickmn/go-cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ProfileService manages display identities. Reads go through a short
// TTL cache because profiles are resolved on every group roster view.
type ProfileService struct {
	db    *database.MongoDB
	cache *cache.Cache
}

// NewProfileService creates a profile service.
func NewProfileService(db *database.MongoDB) *ProfileService {
	return &ProfileService{
		db:    db,
		cache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Create inserts a profile for a user id.
func (s *ProfileService) Create(ctx context.Context, userID, displayName string) (*models.Profile, error) {
	now := time.Now().UTC()
	profile := &models.Profile{
		UserID:      userID,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	result, err := s.db.Collection(database.CollectionProfiles).InsertOne(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to insert profile: %w", err)
	}
	profile.ID = result.InsertedID.(primitive.ObjectID)

	s.cache.Set(userID, profile, cache.DefaultExpiration)
	return profile, nil
}

// Get returns the profile for a user id, from cache when fresh.
func (s *ProfileService) Get(ctx context.Context, userID string) (*models.Profile, error) {
	if cached, found := s.cache.Get(userID); found {
		return cached.(*models.Profile), nil
	}

	var profile models.Profile
	err := s.db.Collection(database.CollectionProfiles).
		FindOne(ctx, bson.M{"userId": userID}).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	s.cache.Set(userID, &profile, cache.DefaultExpiration)
	return &profile, nil
}

// GetMany resolves profiles for a set of user ids. Missing profiles are
// skipped, not errors; rosters tolerate users who never signed in.
func (s *ProfileService) GetMany(ctx context.Context, userIDs []string) (map[string]*models.Profile, error) {
	resolved := make(map[string]*models.Profile, len(userIDs))
	var misses []string

	for _, id := range userIDs {
		if cached, found := s.cache.Get(id); found {
			resolved[id] = cached.(*models.Profile)
		} else {
			misses = append(misses, id)
		}
	}

	if len(misses) > 0 {
		cursor, err := s.db.Collection(database.CollectionProfiles).
			Find(ctx, bson.M{"userId": bson.M{"$in": misses}})
		if err != nil {
			return nil, fmt.Errorf("failed to list profiles: %w", err)
		}
		defer cursor.Close(ctx)

		for cursor.Next(ctx) {
			var profile models.Profile
			if err := cursor.Decode(&profile); err != nil {
				return nil, fmt.Errorf("failed to decode profile: %w", err)
			}
			p := profile
			resolved[p.UserID] = &p
			s.cache.Set(p.UserID, &p, cache.DefaultExpiration)
		}
		if err := cursor.Err(); err != nil {
			return nil, fmt.Errorf("cursor error: %w", err)
		}
	}

	return resolved, nil
}

// Update edits the display identity and invalidates the cache entry.
func (s *ProfileService) Update(ctx context.Context, userID string, req *models.UpdateProfileRequest) (*models.Profile, error) {
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		return nil, fmt.Errorf("%w: display_name is required", ErrValidation)
	}

	update := bson.M{
		"displayName": displayName,
		"updatedAt":   time.Now().UTC(),
	}
	if req.AvatarURL != "" {
		update["avatarUrl"] = req.AvatarURL
	}

	var profile models.Profile
	err := s.db.Collection(database.CollectionProfiles).FindOneAndUpdate(
		ctx,
		bson.M{"userId": userID},
		bson.M{"$set": update},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&profile)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	s.cache.Delete(userID)
	return &profile, nil
}
