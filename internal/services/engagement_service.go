package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"discourse/internal/database"
	"discourse/internal/llm"
	"discourse/internal/models"
	"discourse/internal/prompts"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// qualityOutput is the structured shape of the contribution scoring call.
type qualityOutput struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

var qualitySchema = llm.Schema{
	Name: "engagement_score",
	Properties: map[string]llm.Property{
		"score":     {Type: "integer"},
		"rationale": {Type: "string"},
	},
	Required: []string{"score", "rationale"},
}

// EngagementService computes per-student participation metrics plus an
// LLM-scored contribution quality, one document per (session, student).
type EngagementService struct {
	db       *database.MongoDB
	caller   llm.Caller
	registry *prompts.Registry
}

// NewEngagementService creates an engagement service.
func NewEngagementService(db *database.MongoDB, caller llm.Caller, registry *prompts.Registry) *EngagementService {
	return &EngagementService{db: db, caller: caller, registry: registry}
}

// ComputeSession recomputes engagement for every participant of a
// hosted session. Recomputation overwrites previous results.
func (s *EngagementService) ComputeSession(ctx context.Context, hostID, sessionID string) ([]models.Engagement, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return nil, ErrNotFound
	}

	var session models.Session
	if err := s.db.Collection(database.CollectionSessions).
		FindOne(ctx, bson.M{"_id": oid}).Decode(&session); err != nil {
		return nil, ErrNotFound
	}
	if session.HostID != hostID {
		return nil, ErrForbidden
	}

	results := make([]models.Engagement, 0, len(session.ParticipantIDs))
	for _, studentID := range session.ParticipantIDs {
		engagement, err := s.computeStudent(ctx, &session, studentID)
		if err != nil {
			log.Printf("⚠️ Engagement for %s in session %s failed: %v", studentID, sessionID, err)
			continue
		}
		results = append(results, *engagement)
	}
	return results, nil
}

// computeStudent derives the counters from the student's conversation
// and scores the contribution quality with the model, then upserts.
func (s *EngagementService) computeStudent(ctx context.Context, session *models.Session, studentID string) (*models.Engagement, error) {
	var conv models.Conversation
	err := s.db.Collection(database.CollectionConversations).
		FindOne(ctx, bson.M{"sessionId": session.ID, "studentId": studentID}).Decode(&conv)
	if err != nil {
		return nil, fmt.Errorf("no conversation for student: %w", err)
	}

	engagement := models.Engagement{
		SessionID:      session.ID,
		StudentID:      studentID,
		ModerationFlag: conv.Warning.Moderation,
		ComputedAt:     time.Now().UTC(),
	}

	var totalLen, offTopic int
	var studentMessages []string
	for _, msg := range conv.History {
		if msg.Role != models.RoleUser {
			continue
		}
		engagement.MessageCount++
		totalLen += utf8.RuneCountInString(msg.Content)
		studentMessages = append(studentMessages, msg.Content)
		if msg.Warnings != nil && msg.Warnings.OffTopic {
			offTopic++
		}
	}
	if engagement.MessageCount > 0 {
		engagement.MeanMessageLen = float64(totalLen) / float64(engagement.MessageCount)
		engagement.OffTopicRatio = float64(offTopic) / float64(engagement.MessageCount)
	}
	if len(conv.Subtasks) > 0 {
		done := 0
		for _, c := range conv.SubtaskCompleted {
			if c {
				done++
			}
		}
		engagement.SubtaskRatio = float64(done) / float64(len(conv.Subtasks))
	}

	if len(studentMessages) > 0 {
		system := prompts.Render(s.registry.Get(prompts.EngagementScore), map[string]string{
			"task":     conv.Task,
			"messages": strings.Join(studentMessages, "\n"),
		})
		var out qualityOutput
		err = s.caller.Complete(ctx, llm.Request{
			System:      system,
			History:     []llm.Message{{Role: models.RoleUser, Content: "請評分這位學生的討論貢獻。"}},
			Schema:      qualitySchema,
			Temperature: 0.0,
			TopP:        1.0,
		}, &out)
		if err != nil {
			return nil, err
		}
		if out.Score < 0 {
			out.Score = 0
		}
		if out.Score > 100 {
			out.Score = 100
		}
		engagement.QualityScore = out.Score
		engagement.QualityComment = out.Rationale
	}

	_, err = s.db.Collection(database.CollectionEngagement).UpdateOne(
		ctx,
		bson.M{"sessionId": session.ID, "studentId": studentID},
		bson.M{"$set": engagement},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert engagement: %w", err)
	}
	return &engagement, nil
}

// ListBySession returns the stored engagement docs for a hosted session.
func (s *EngagementService) ListBySession(ctx context.Context, hostID, sessionID string) ([]models.Engagement, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return nil, ErrNotFound
	}

	var session models.Session
	if err := s.db.Collection(database.CollectionSessions).
		FindOne(ctx, bson.M{"_id": oid}).Decode(&session); err != nil {
		return nil, ErrNotFound
	}
	if session.HostID != hostID {
		return nil, ErrForbidden
	}

	cursor, err := s.db.Collection(database.CollectionEngagement).
		Find(ctx, bson.M{"sessionId": oid}, options.Find().SetSort(bson.D{{Key: "studentId", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list engagement: %w", err)
	}
	defer cursor.Close(ctx)

	engagements := []models.Engagement{}
	if err := cursor.All(ctx, &engagements); err != nil {
		return nil, fmt.Errorf("failed to decode engagement: %w", err)
	}
	return engagements, nil
}
