package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"discourse/internal/database"
	"discourse/internal/models"
	"discourse/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TemplateService manages reusable task templates.
type TemplateService struct {
	db *database.MongoDB
}

// NewTemplateService creates a template service.
func NewTemplateService(db *database.MongoDB) *TemplateService {
	return &TemplateService{db: db}
}

func validateTemplateRequest(req *models.CreateTemplateRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(req.Task) == "" {
		return fmt.Errorf("%w: task is required", ErrValidation)
	}
	if len(req.Subtasks) == 0 {
		return fmt.Errorf("%w: at least one subtask is required", ErrValidation)
	}
	for i, st := range req.Subtasks {
		if strings.TrimSpace(st) == "" {
			return fmt.Errorf("%w: subtask %d is empty", ErrValidation, i+1)
		}
	}
	return nil
}

// Create inserts a new template owned by ownerID.
func (s *TemplateService) Create(ctx context.Context, ownerID string, req *models.CreateTemplateRequest) (*models.Template, error) {
	if err := validateTemplateRequest(req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tmpl := &models.Template{
		OwnerID:   ownerID,
		Title:     strings.TrimSpace(req.Title),
		Task:      strings.TrimSpace(req.Task),
		Subtasks:  req.Subtasks,
		Resources: req.Resources,
		IsPublic:  req.IsPublic,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if tmpl.Resources == nil {
		tmpl.Resources = []models.Resource{}
	}

	result, err := s.db.Collection(database.CollectionTemplates).InsertOne(ctx, tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to insert template: %w", err)
	}
	tmpl.ID = result.InsertedID.(primitive.ObjectID)
	return tmpl, nil
}

// Get returns a template if the requester owns it or it is public.
func (s *TemplateService) Get(ctx context.Context, requesterID, templateID string) (*models.Template, error) {
	oid, err := primitive.ObjectIDFromHex(templateID)
	if err != nil {
		return nil, ErrNotFound
	}

	var tmpl models.Template
	err = s.db.Collection(database.CollectionTemplates).
		FindOne(ctx, bson.M{"_id": oid}).Decode(&tmpl)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if tmpl.OwnerID != requesterID && !tmpl.IsPublic {
		return nil, ErrForbidden
	}
	return &tmpl, nil
}

// ListOwn returns the requester's templates, newest first.
func (s *TemplateService) ListOwn(ctx context.Context, ownerID string) ([]models.Template, error) {
	return s.list(ctx, bson.M{"ownerId": ownerID})
}

// ListPublic returns public templates, newest first.
func (s *TemplateService) ListPublic(ctx context.Context) ([]models.Template, error) {
	return s.list(ctx, bson.M{"isPublic": true})
}

func (s *TemplateService) list(ctx context.Context, filter bson.M) ([]models.Template, error) {
	cursor, err := s.db.Collection(database.CollectionTemplates).
		Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer cursor.Close(ctx)

	templates := []models.Template{}
	if err := cursor.All(ctx, &templates); err != nil {
		return nil, fmt.Errorf("failed to decode templates: %w", err)
	}
	return templates, nil
}

// Update replaces the editable fields of an owned template. Running
// sessions are unaffected; they carry frozen copies.
func (s *TemplateService) Update(ctx context.Context, ownerID, templateID string, req *models.CreateTemplateRequest) (*models.Template, error) {
	if err := validateTemplateRequest(req); err != nil {
		return nil, err
	}

	oid, err := primitive.ObjectIDFromHex(templateID)
	if err != nil {
		return nil, ErrNotFound
	}

	resources := req.Resources
	if resources == nil {
		resources = []models.Resource{}
	}

	var tmpl models.Template
	err = s.db.Collection(database.CollectionTemplates).FindOneAndUpdate(
		ctx,
		bson.M{"_id": oid, "ownerId": ownerID},
		bson.M{"$set": bson.M{
			"title":     strings.TrimSpace(req.Title),
			"task":      strings.TrimSpace(req.Task),
			"subtasks":  req.Subtasks,
			"resources": resources,
			"isPublic":  req.IsPublic,
			"updatedAt": time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&tmpl)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	return &tmpl, nil
}

// Delete removes an owned template.
func (s *TemplateService) Delete(ctx context.Context, ownerID, templateID string) error {
	oid, err := primitive.ObjectIDFromHex(templateID)
	if err != nil {
		return ErrNotFound
	}

	result, err := s.db.Collection(database.CollectionTemplates).
		DeleteOne(ctx, bson.M{"_id": oid, "ownerId": ownerID})
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Clone copies a public template (or one of the requester's own) into
// the requester's library as a private template.
func (s *TemplateService) Clone(ctx context.Context, requesterID, templateID string) (*models.Template, error) {
	src, err := s.Get(ctx, requesterID, templateID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	clone := &models.Template{
		OwnerID:   requesterID,
		Title:     src.Title,
		Task:      src.Task,
		Subtasks:  append([]string(nil), src.Subtasks...),
		Resources: append([]models.Resource(nil), src.Resources...),
		IsPublic:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}

	result, err := s.db.Collection(database.CollectionTemplates).InsertOne(ctx, clone)
	if err != nil {
		return nil, fmt.Errorf("failed to clone template: %w", err)
	}
	clone.ID = result.InsertedID.(primitive.ObjectID)
	return clone, nil
}

// AddPDFResource extracts text from an uploaded PDF and appends it as a
// resource on an owned template.
func (s *TemplateService) AddPDFResource(ctx context.Context, ownerID, templateID, title string, data []byte) (*models.Template, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}

	text, err := utils.ExtractPDFText(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	oid, err := primitive.ObjectIDFromHex(templateID)
	if err != nil {
		return nil, ErrNotFound
	}

	var tmpl models.Template
	err = s.db.Collection(database.CollectionTemplates).FindOneAndUpdate(
		ctx,
		bson.M{"_id": oid, "ownerId": ownerID},
		bson.M{
			"$push": bson.M{"resources": models.Resource{Title: strings.TrimSpace(title), Content: text}},
			"$set":  bson.M{"updatedAt": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&tmpl)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to add resource: %w", err)
	}
	return &tmpl, nil
}
