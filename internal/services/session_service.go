package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"discourse/internal/database"
	"discourse/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// statusOrder makes the phase chain comparable. Transitions only ever
// step forward to the immediate next status.
var statusOrder = map[string]int{
	models.SessionPreparing:   0,
	models.SessionIndividual:  1,
	models.SessionBeforeGroup: 2,
	models.SessionGroup:       3,
	models.SessionEnded:       4,
}

const defaultGroupSize = 4

// SessionService manages discussion sessions and drives the phase state
// machine.
type SessionService struct {
	db            *database.MongoDB
	templates     *TemplateService
	groups        *GroupService
	conversations *ConversationService
	events        *PhaseEvents
}

// NewSessionService creates a session service.
func NewSessionService(db *database.MongoDB, templates *TemplateService, groups *GroupService, conversations *ConversationService, events *PhaseEvents) *SessionService {
	return &SessionService{
		db:            db,
		templates:     templates,
		groups:        groups,
		conversations: conversations,
		events:        events,
	}
}

// Create builds a session from a template. Title, task, subtasks and
// resources are copied; the template can change or disappear afterwards
// without touching the session.
func (s *SessionService) Create(ctx context.Context, hostID string, req *models.CreateSessionRequest) (*models.Session, error) {
	tmpl, err := s.templates.Get(ctx, hostID, req.TemplateID)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = tmpl.Title
	}

	settings := models.SessionSettings{AutoGroup: true, GroupSize: defaultGroupSize}
	if req.Settings != nil {
		settings = *req.Settings
		if settings.GroupSize <= 0 {
			settings.GroupSize = defaultGroupSize
		}
	}

	now := time.Now().UTC()
	session := &models.Session{
		HostID:         hostID,
		TemplateID:     tmpl.ID,
		Title:          title,
		Task:           tmpl.Task,
		Subtasks:       append([]string(nil), tmpl.Subtasks...),
		Resources:      append([]models.Resource(nil), tmpl.Resources...),
		Status:         models.SessionPreparing,
		Labels:         req.Labels,
		Settings:       settings,
		ParticipantIDs: []string{},
		Phases: map[string]models.PhaseWindow{
			models.SessionPreparing: {StartedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if session.Labels == nil {
		session.Labels = []string{}
	}

	result, err := s.db.Collection(database.CollectionSessions).InsertOne(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}
	session.ID = result.InsertedID.(primitive.ObjectID)

	log.Printf("✅ Session %s created from template %s", session.ID.Hex(), tmpl.ID.Hex())
	return session, nil
}

// Get returns a session visible to the requester (host or participant).
func (s *SessionService) Get(ctx context.Context, requesterID, sessionID string) (*models.Session, error) {
	session, err := s.getByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.HostID != requesterID && !contains(session.ParticipantIDs, requesterID) {
		return nil, ErrForbidden
	}
	return session, nil
}

func (s *SessionService) getByID(ctx context.Context, sessionID string) (*models.Session, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return nil, ErrNotFound
	}

	var session models.Session
	err = s.db.Collection(database.CollectionSessions).
		FindOne(ctx, bson.M{"_id": oid}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// ListHosted returns the sessions hosted by a teacher, newest first.
func (s *SessionService) ListHosted(ctx context.Context, hostID string) ([]models.Session, error) {
	return s.list(ctx, bson.M{"hostId": hostID})
}

// ListJoined returns the sessions the student participates in.
func (s *SessionService) ListJoined(ctx context.Context, studentID string) ([]models.Session, error) {
	return s.list(ctx, bson.M{"participantIds": studentID})
}

func (s *SessionService) list(ctx context.Context, filter bson.M) ([]models.Session, error) {
	cursor, err := s.db.Collection(database.CollectionSessions).
		Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cursor.Close(ctx)

	sessions := []models.Session{}
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}

// Join adds a student to a session. Only possible while the session is
// still preparing; once the individual phase starts the roster is fixed.
func (s *SessionService) Join(ctx context.Context, studentID, sessionID string) (*models.Session, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return nil, ErrNotFound
	}

	var session models.Session
	err = s.db.Collection(database.CollectionSessions).FindOneAndUpdate(
		ctx,
		bson.M{"_id": oid, "status": models.SessionPreparing},
		bson.M{
			"$addToSet": bson.M{"participantIds": studentID},
			"$set":      bson.M{"updatedAt": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish a missing session from a closed roster.
			if _, getErr := s.getByID(ctx, sessionID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to join session: %w", err)
	}
	return &session, nil
}

// Update edits labels and settings on a hosted session.
func (s *SessionService) Update(ctx context.Context, hostID, sessionID string, req *models.UpdateSessionRequest) (*models.Session, error) {
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return nil, ErrNotFound
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if req.Labels != nil {
		set["labels"] = req.Labels
	}
	if req.Settings != nil {
		if req.Settings.GroupSize <= 0 {
			req.Settings.GroupSize = defaultGroupSize
		}
		set["settings"] = req.Settings
	}

	var session models.Session
	err = s.db.Collection(database.CollectionSessions).FindOneAndUpdate(
		ctx,
		bson.M{"_id": oid, "hostId": hostID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return &session, nil
}

// Delete removes a hosted session and its derived documents. Only
// allowed before the session goes live or after it ended.
func (s *SessionService) Delete(ctx context.Context, hostID, sessionID string) error {
	session, err := s.getByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.HostID != hostID {
		return ErrForbidden
	}
	if session.Status != models.SessionPreparing && session.Status != models.SessionEnded {
		return ErrInvalidTransition
	}

	if _, err := s.db.Collection(database.CollectionConversations).
		DeleteMany(ctx, bson.M{"sessionId": session.ID}); err != nil {
		return fmt.Errorf("failed to delete conversations: %w", err)
	}
	if _, err := s.db.Collection(database.CollectionGroups).
		DeleteMany(ctx, bson.M{"sessionId": session.ID}); err != nil {
		return fmt.Errorf("failed to delete groups: %w", err)
	}
	if _, err := s.db.Collection(database.CollectionEngagement).
		DeleteMany(ctx, bson.M{"sessionId": session.ID}); err != nil {
		return fmt.Errorf("failed to delete engagement: %w", err)
	}
	if _, err := s.db.Collection(database.CollectionSessions).
		DeleteOne(ctx, bson.M{"_id": session.ID}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Transition advances the session to the requested status. Host only,
// forward only, one step at a time. Side effects per target status:
//
//	individual: groups are formed (auto-grouping when enabled) and one
//	            conversation is created per (group, student).
//	group:      all groups flip to the discussion status.
//	ended:      the final phase window is closed.
func (s *SessionService) Transition(ctx context.Context, hostID, sessionID, target string) (*models.Session, error) {
	session, err := s.getByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.HostID != hostID {
		return nil, ErrForbidden
	}

	targetOrder, ok := statusOrder[target]
	if !ok {
		return nil, ErrInvalidTransition
	}
	if targetOrder != statusOrder[session.Status]+1 {
		return nil, ErrInvalidTransition
	}

	switch target {
	case models.SessionIndividual:
		groups, err := s.groups.FormGroups(ctx, session)
		if err != nil {
			return nil, err
		}
		if err := s.conversations.CreateForSession(ctx, session, groups); err != nil {
			return nil, err
		}
	case models.SessionGroup:
		if err := s.groups.StartDiscussion(ctx, session.ID); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	set := bson.M{
		"status":    target,
		"updatedAt": now,
		fmt.Sprintf("phases.%s.endedAt", session.Status): now,
		fmt.Sprintf("phases.%s.startedAt", target):       now,
	}
	if target == models.SessionEnded {
		set[fmt.Sprintf("phases.%s.endedAt", target)] = now
	}

	var updated models.Session
	err = s.db.Collection(database.CollectionSessions).FindOneAndUpdate(
		ctx,
		bson.M{"_id": session.ID, "status": session.Status},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to transition session: %w", err)
	}

	s.events.PublishSessionPhase(ctx, updated.ID.Hex(), target)
	log.Printf("✅ Session %s entered phase %s", updated.ID.Hex(), target)
	return &updated, nil
}

// End forces a session into the ended status regardless of its current
// phase. Used by the stale-session cleanup job.
func (s *SessionService) End(ctx context.Context, sessionID primitive.ObjectID, currentStatus string) error {
	now := time.Now().UTC()
	result, err := s.db.Collection(database.CollectionSessions).UpdateOne(
		ctx,
		bson.M{"_id": sessionID, "status": currentStatus},
		bson.M{"$set": bson.M{
			"status":    models.SessionEnded,
			"updatedAt": now,
			fmt.Sprintf("phases.%s.endedAt", currentStatus):        now,
			fmt.Sprintf("phases.%s.startedAt", models.SessionEnded): now,
			fmt.Sprintf("phases.%s.endedAt", models.SessionEnded):   now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if result.ModifiedCount == 0 {
		return ErrConflict
	}

	s.events.PublishSessionPhase(ctx, sessionID.Hex(), models.SessionEnded)
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
