package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"discourse/internal/database"
	"discourse/internal/llm"
	"discourse/internal/models"
	"discourse/internal/prompts"
	"discourse/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConversationStore is the persistence surface the turn pipeline needs.
// The concrete implementation is ConversationService; tests substitute
// an in-memory fake.
type ConversationStore interface {
	// GetByID loads a conversation document.
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Conversation, error)

	// AppendTurn appends the user and assistant messages and writes the
	// merged per-turn state in a single compare-and-swap update. The
	// predicate is the history length observed at turn start: if another
	// turn landed in between, AppendTurn returns ErrConflict and writes
	// nothing.
	AppendTurn(ctx context.Context, id primitive.ObjectID, expectedHistoryLen int,
		userMsg, assistantMsg models.ConversationMessage,
		subtaskCompleted []bool, warning models.ConversationWarning) (*models.Conversation, error)
}

// summaryOutput is the structured shape for conversation summarization.
type summaryOutput struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

var summarySchema = llm.Schema{
	Name: "conversation_summary",
	Properties: map[string]llm.Property{
		"summary":    {Type: "string"},
		"key_points": {Type: "array", Items: &llm.Property{Type: "string"}},
	},
	Required: []string{"summary", "key_points"},
}

// ConversationService manages individual-phase tutoring conversations.
type ConversationService struct {
	db       *database.MongoDB
	caller   llm.Caller
	registry *prompts.Registry
	language *LanguageService
}

// NewConversationService creates a conversation service.
func NewConversationService(db *database.MongoDB, caller llm.Caller, registry *prompts.Registry, language *LanguageService) *ConversationService {
	return &ConversationService{
		db:       db,
		caller:   caller,
		registry: registry,
		language: language,
	}
}

// CreateForSession creates one conversation per (group, student) when
// the session enters its individual phase. Task context is frozen from
// the session. Idempotent: existing conversations are left alone.
func (s *ConversationService) CreateForSession(ctx context.Context, session *models.Session, groups []models.Group) error {
	now := time.Now().UTC()
	for _, group := range groups {
		for _, studentID := range group.ParticipantIDs {
			conv := models.Conversation{
				SessionID:        session.ID,
				GroupID:          group.ID,
				StudentID:        studentID,
				Task:             session.Task,
				Subtasks:         append([]string(nil), session.Subtasks...),
				Resources:        append([]models.Resource(nil), session.Resources...),
				History:          []models.ConversationMessage{},
				SubtaskCompleted: make([]bool, len(session.Subtasks)),
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			_, err := s.db.Collection(database.CollectionConversations).InsertOne(ctx, conv)
			if err != nil && !mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("failed to create conversation for %s: %w", studentID, err)
			}
		}
	}
	return nil
}

// GetByID implements ConversationStore.
func (s *ConversationService) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Collection(database.CollectionConversations).
		FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// Get returns a conversation visible to the requester: its student or
// the host of the owning session.
func (s *ConversationService) Get(ctx context.Context, requesterID, conversationID string) (*models.Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, ErrNotFound
	}

	conv, err := s.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	if conv.StudentID == requesterID {
		return conv, nil
	}

	var session models.Session
	err = s.db.Collection(database.CollectionSessions).
		FindOne(ctx, bson.M{"_id": conv.SessionID}).Decode(&session)
	if err != nil {
		return nil, fmt.Errorf("failed to get owning session: %w", err)
	}
	if session.HostID != requesterID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// GetOwn returns the requester's own conversation in a session.
func (s *ConversationService) GetOwn(ctx context.Context, studentID string, sessionID primitive.ObjectID) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Collection(database.CollectionConversations).
		FindOne(ctx, bson.M{"sessionId": sessionID, "studentId": studentID}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// ListBySession returns all conversations in a session, host view.
func (s *ConversationService) ListBySession(ctx context.Context, hostID string, sessionID primitive.ObjectID) ([]models.Conversation, error) {
	var session models.Session
	err := s.db.Collection(database.CollectionSessions).
		FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session.HostID != hostID {
		return nil, ErrForbidden
	}

	cursor, err := s.db.Collection(database.CollectionConversations).
		Find(ctx, bson.M{"sessionId": sessionID}, options.Find().SetSort(bson.D{{Key: "studentId", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	conversations := []models.Conversation{}
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return conversations, nil
}

// AppendTurn implements ConversationStore with a single CAS update: the
// filter matches only when the history still has the length observed at
// turn start, so a lost race writes nothing.
func (s *ConversationService) AppendTurn(ctx context.Context, id primitive.ObjectID, expectedHistoryLen int,
	userMsg, assistantMsg models.ConversationMessage,
	subtaskCompleted []bool, warning models.ConversationWarning) (*models.Conversation, error) {

	var conv models.Conversation
	err := s.db.Collection(database.CollectionConversations).FindOneAndUpdate(
		ctx,
		bson.M{"_id": id, "history": bson.M{"$size": expectedHistoryLen}},
		bson.M{
			"$push": bson.M{"history": bson.M{"$each": []models.ConversationMessage{userMsg, assistantMsg}}},
			"$set": bson.M{
				"subtaskCompleted": subtaskCompleted,
				"warning":          warning,
				"updatedAt":        time.Now().UTC(),
			},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either the document vanished or another turn advanced the
			// history first.
			if _, getErr := s.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}
	return &conv, nil
}

// Summarize produces the end-of-individual-phase summary and key
// points. Set-once: an already summarized conversation is never
// overwritten and a repeat call fails with ErrAlreadySummarized.
func (s *ConversationService) Summarize(ctx context.Context, requesterID, conversationID string) (*models.Conversation, error) {
	conv, err := s.Get(ctx, requesterID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Summary != "" {
		return nil, ErrAlreadySummarized
	}

	var history strings.Builder
	for _, msg := range conv.History {
		history.WriteString(msg.Role)
		history.WriteString(": ")
		history.WriteString(msg.Content)
		history.WriteString("\n")
	}

	system := prompts.Render(s.registry.Get(prompts.ConversationSummary), map[string]string{
		"task":    conv.Task,
		"history": history.String(),
	})

	var out summaryOutput
	err = s.caller.Complete(ctx, llm.Request{
		System:      system,
		History:     []llm.Message{{Role: "user", Content: "請總結這段討論。"}},
		Schema:      summarySchema,
		Temperature: 0.3,
		TopP:        1.0,
	}, &out)
	if err != nil {
		return nil, err
	}

	// Each textual unit is cleaned independently.
	units := append([]string{out.Summary}, out.KeyPoints...)
	cleaned, err := s.language.CleanAll(ctx, units)
	if err != nil {
		return nil, err
	}
	summary := utils.NormalizeFullWidth(cleaned[0])
	keyPoints := cleaned[1:]

	var updated models.Conversation
	err = s.db.Collection(database.CollectionConversations).FindOneAndUpdate(
		ctx,
		bson.M{"_id": conv.ID, "summary": bson.M{"$in": bson.A{"", nil}}},
		bson.M{"$set": bson.M{
			"summary":   summary,
			"keyPoints": keyPoints,
			"updatedAt": time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrAlreadySummarized
		}
		return nil, fmt.Errorf("failed to write summary: %w", err)
	}
	return &updated, nil
}
