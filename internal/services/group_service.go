package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
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

// conceptOutput is the structured shape for group concept generation.
type conceptOutput struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
	Keywords  []string `json:"keywords"`
}

var conceptSchema = llm.Schema{
	Name: "group_concept",
	Properties: map[string]llm.Property{
		"summary":    {Type: "string"},
		"key_points": {Type: "array", Items: &llm.Property{Type: "string"}},
		"keywords":   {Type: "array", Items: &llm.Property{Type: "string"}},
	},
	Required: []string{"summary", "key_points", "keywords"},
}

// GroupService manages discussion groups: formation, transcripts and
// the finalized group concept.
type GroupService struct {
	db       *database.MongoDB
	caller   llm.Caller
	registry *prompts.Registry
	language *LanguageService
	events   *PhaseEvents
}

// NewGroupService creates a group service.
func NewGroupService(db *database.MongoDB, caller llm.Caller, registry *prompts.Registry, language *LanguageService, events *PhaseEvents) *GroupService {
	return &GroupService{
		db:       db,
		caller:   caller,
		registry: registry,
		language: language,
		events:   events,
	}
}

// Create adds a manual group to a preparing session. Hosts use this to
// pre-assign students before auto-grouping fills in the rest.
func (s *GroupService) Create(ctx context.Context, hostID, sessionID string, req *models.CreateGroupRequest) (*models.Group, error) {
	session, err := s.sessionForHost(ctx, hostID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionPreparing {
		return nil, ErrInvalidTransition
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}

	now := time.Now().UTC()
	group := models.Group{
		SessionID:      session.ID,
		Name:           name,
		ParticipantIDs: []string{},
		Status:         models.GroupDiscussion,
		Discussion:     []models.TranscriptEntry{},
		KeywordFreq:    map[string]int{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	result, err := s.db.Collection(database.CollectionGroups).InsertOne(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}
	group.ID = result.InsertedID.(primitive.ObjectID)
	return &group, nil
}

// Join moves a student into a manual group. Only session participants
// may join, and only while the session is still preparing; a student
// already in another group is moved, not duplicated.
func (s *GroupService) Join(ctx context.Context, studentID, groupID string) (*models.Group, error) {
	group, err := s.getByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	var session models.Session
	err = s.db.Collection(database.CollectionSessions).
		FindOne(ctx, bson.M{"_id": group.SessionID}).Decode(&session)
	if err != nil {
		return nil, fmt.Errorf("failed to get owning session: %w", err)
	}
	if !contains(session.ParticipantIDs, studentID) {
		return nil, ErrForbidden
	}
	if session.Status != models.SessionPreparing {
		return nil, ErrInvalidTransition
	}

	now := time.Now().UTC()
	if _, err := s.db.Collection(database.CollectionGroups).UpdateMany(
		ctx,
		bson.M{"sessionId": session.ID, "participantIds": studentID},
		bson.M{
			"$pull": bson.M{"participantIds": studentID},
			"$set":  bson.M{"updatedAt": now},
		},
	); err != nil {
		return nil, fmt.Errorf("failed to leave previous group: %w", err)
	}

	var updated models.Group
	err = s.db.Collection(database.CollectionGroups).FindOneAndUpdate(
		ctx,
		bson.M{"_id": group.ID},
		bson.M{
			"$addToSet": bson.M{"participantIds": studentID},
			"$set":      bson.M{"updatedAt": now},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to join group: %w", err)
	}
	return &updated, nil
}

func (s *GroupService) sessionForHost(ctx context.Context, hostID, sessionID string) (*models.Session, error) {
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
	if session.HostID != hostID {
		return nil, ErrForbidden
	}
	return &session, nil
}

// FormGroups ensures every session participant is in a group, called
// when the session enters the individual phase. Manually created groups
// are kept; remaining participants are shuffled into groups of
// settings.GroupSize when auto-grouping is enabled, or into a single
// group otherwise.
func (s *GroupService) FormGroups(ctx context.Context, session *models.Session) ([]models.Group, error) {
	existing, err := s.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	assigned := make(map[string]bool)
	for _, g := range existing {
		for _, id := range g.ParticipantIDs {
			assigned[id] = true
		}
	}

	var unassigned []string
	for _, id := range session.ParticipantIDs {
		if !assigned[id] {
			unassigned = append(unassigned, id)
		}
	}
	if len(unassigned) == 0 {
		return existing, nil
	}

	var chunks [][]string
	if session.Settings.AutoGroup {
		rand.Shuffle(len(unassigned), func(i, j int) {
			unassigned[i], unassigned[j] = unassigned[j], unassigned[i]
		})
		size := session.Settings.GroupSize
		if size <= 0 {
			size = defaultGroupSize
		}
		for start := 0; start < len(unassigned); start += size {
			end := start + size
			if end > len(unassigned) {
				end = len(unassigned)
			}
			chunks = append(chunks, unassigned[start:end])
		}
	} else {
		chunks = [][]string{unassigned}
	}

	now := time.Now().UTC()
	for i, members := range chunks {
		group := models.Group{
			SessionID:      session.ID,
			Name:           fmt.Sprintf("Group %d", len(existing)+i+1),
			ParticipantIDs: members,
			Status:         models.GroupDiscussion,
			Discussion:     []models.TranscriptEntry{},
			KeywordFreq:    map[string]int{},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		result, err := s.db.Collection(database.CollectionGroups).InsertOne(ctx, group)
		if err != nil {
			return nil, fmt.Errorf("failed to insert group: %w", err)
		}
		group.ID = result.InsertedID.(primitive.ObjectID)
		existing = append(existing, group)
	}

	log.Printf("✅ Session %s: %d group(s) formed", session.ID.Hex(), len(existing))
	return existing, nil
}

// StartDiscussion resets every group in the session to the discussion
// status when the group phase opens.
func (s *GroupService) StartDiscussion(ctx context.Context, sessionID primitive.ObjectID) error {
	_, err := s.db.Collection(database.CollectionGroups).UpdateMany(
		ctx,
		bson.M{"sessionId": sessionID, "concept": nil},
		bson.M{"$set": bson.M{
			"status":    models.GroupDiscussion,
			"updatedAt": time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to open group discussions: %w", err)
	}
	return nil
}

// Get returns a group visible to the requester: a member or the host
// of the owning session.
func (s *GroupService) Get(ctx context.Context, requesterID, groupID string) (*models.Group, error) {
	group, err := s.getByID(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if contains(group.ParticipantIDs, requesterID) {
		return group, nil
	}

	var session models.Session
	err = s.db.Collection(database.CollectionSessions).
		FindOne(ctx, bson.M{"_id": group.SessionID}).Decode(&session)
	if err != nil {
		return nil, fmt.Errorf("failed to get owning session: %w", err)
	}
	if session.HostID != requesterID {
		return nil, ErrForbidden
	}
	return group, nil
}

func (s *GroupService) getByID(ctx context.Context, groupID string) (*models.Group, error) {
	oid, err := primitive.ObjectIDFromHex(groupID)
	if err != nil {
		return nil, ErrNotFound
	}

	var group models.Group
	err = s.db.Collection(database.CollectionGroups).
		FindOne(ctx, bson.M{"_id": oid}).Decode(&group)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

// ListBySession returns all groups in a session.
func (s *GroupService) ListBySession(ctx context.Context, sessionID primitive.ObjectID) ([]models.Group, error) {
	cursor, err := s.db.Collection(database.CollectionGroups).
		Find(ctx, bson.M{"sessionId": sessionID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer cursor.Close(ctx)

	groups := []models.Group{}
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("failed to decode groups: %w", err)
	}
	return groups, nil
}

// FindForStudent returns the group containing a student in a session.
func (s *GroupService) FindForStudent(ctx context.Context, sessionID primitive.ObjectID, studentID string) (*models.Group, error) {
	var group models.Group
	err := s.db.Collection(database.CollectionGroups).
		FindOne(ctx, bson.M{"sessionId": sessionID, "participantIds": studentID}).Decode(&group)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find group: %w", err)
	}
	return &group, nil
}

// AppendTranscript records one contribution in the group discussion.
// Only members may post, and only while the group is in discussion.
func (s *GroupService) AppendTranscript(ctx context.Context, speakerID, groupID string, req *models.TranscriptRequest) (*models.Group, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}

	group, err := s.getByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !contains(group.ParticipantIDs, speakerID) {
		return nil, ErrForbidden
	}
	if group.Status != models.GroupDiscussion || group.Concept != nil {
		return nil, ErrPhaseLocked
	}

	entry := models.TranscriptEntry{
		SpeakerID: speakerID,
		Content:   content,
		AudioRef:  req.AudioRef,
		SentAt:    time.Now().UTC(),
	}

	var updated models.Group
	err = s.db.Collection(database.CollectionGroups).FindOneAndUpdate(
		ctx,
		bson.M{"_id": group.ID, "status": models.GroupDiscussion},
		bson.M{
			"$push": bson.M{"discussion": entry},
			"$set":  bson.M{"updatedAt": entry.SentAt},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPhaseLocked
		}
		return nil, fmt.Errorf("failed to append transcript: %w", err)
	}
	return &updated, nil
}

// Finalize writes the group concept exactly once. The concept is a
// phase lock: once set it is never overwritten, and a second finalize
// fails with ErrPhaseLocked. The group moves discussion -> summarize
// while the concept is generated, then to end.
func (s *GroupService) Finalize(ctx context.Context, hostID, groupID string) (*models.Group, error) {
	group, err := s.Get(ctx, hostID, groupID)
	if err != nil {
		return nil, err
	}
	if group.Concept != nil {
		return nil, ErrPhaseLocked
	}

	// Claim the summarize status first so concurrent finalizes lose.
	result, err := s.db.Collection(database.CollectionGroups).UpdateOne(
		ctx,
		bson.M{"_id": group.ID, "status": models.GroupDiscussion, "concept": nil},
		bson.M{"$set": bson.M{"status": models.GroupSummarize, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim finalize: %w", err)
	}
	if result.ModifiedCount == 0 {
		return nil, ErrPhaseLocked
	}

	concept, keywordFreq, err := s.generateConcept(ctx, group)
	if err != nil {
		// Roll the claim back so the host can retry.
		_, rollbackErr := s.db.Collection(database.CollectionGroups).UpdateOne(
			ctx,
			bson.M{"_id": group.ID, "status": models.GroupSummarize},
			bson.M{"$set": bson.M{"status": models.GroupDiscussion, "updatedAt": time.Now().UTC()}},
		)
		if rollbackErr != nil {
			log.Printf("⚠️ Failed to roll back finalize claim for group %s: %v", group.ID.Hex(), rollbackErr)
		}
		return nil, err
	}

	var updated models.Group
	err = s.db.Collection(database.CollectionGroups).FindOneAndUpdate(
		ctx,
		bson.M{"_id": group.ID, "concept": nil},
		bson.M{"$set": bson.M{
			"concept":     concept,
			"keywordFreq": keywordFreq,
			"status":      models.GroupEnd,
			"updatedAt":   time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrPhaseLocked
		}
		return nil, fmt.Errorf("failed to write concept: %w", err)
	}

	s.events.PublishGroupFinalized(ctx, updated.SessionID.Hex(), updated.ID.Hex())
	log.Printf("✅ Group %s finalized", updated.ID.Hex())
	return &updated, nil
}

// generateConcept runs the concept prompt over member summaries and the
// transcript, then passes every textual unit through language cleanup.
func (s *GroupService) generateConcept(ctx context.Context, group *models.Group) (*models.GroupConcept, map[string]int, error) {
	var session models.Session
	if err := s.db.Collection(database.CollectionSessions).
		FindOne(ctx, bson.M{"_id": group.SessionID}).Decode(&session); err != nil {
		return nil, nil, fmt.Errorf("failed to get owning session: %w", err)
	}

	summaries, err := s.memberSummaries(ctx, group)
	if err != nil {
		return nil, nil, err
	}

	var transcript strings.Builder
	for _, entry := range group.Discussion {
		transcript.WriteString(entry.SpeakerID)
		transcript.WriteString(": ")
		transcript.WriteString(entry.Content)
		transcript.WriteString("\n")
	}

	system := prompts.Render(s.registry.Get(prompts.GroupConcept), map[string]string{
		"task":             session.Task,
		"member_summaries": strings.Join(summaries, "\n"),
		"transcript":       transcript.String(),
	})

	var out conceptOutput
	err = s.caller.Complete(ctx, llm.Request{
		System:      system,
		History:     []llm.Message{{Role: "user", Content: "請總結這個小組的討論。"}},
		Schema:      conceptSchema,
		Temperature: 0.3,
		TopP:        1.0,
	}, &out)
	if err != nil {
		return nil, nil, err
	}

	units := append([]string{out.Summary}, out.KeyPoints...)
	cleaned, err := s.language.CleanAll(ctx, units)
	if err != nil {
		return nil, nil, err
	}

	concept := &models.GroupConcept{
		Summary:     utils.NormalizeFullWidth(cleaned[0]),
		KeyPoints:   cleaned[1:],
		FinalizedAt: time.Now().UTC(),
	}

	freq := make(map[string]int, len(out.Keywords))
	for _, kw := range out.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		count := 0
		for _, entry := range group.Discussion {
			count += strings.Count(entry.Content, kw)
		}
		freq[kw] = count
	}

	return concept, freq, nil
}

// memberSummaries collects the individual-phase summaries of the
// group's members, skipping conversations never summarized.
func (s *GroupService) memberSummaries(ctx context.Context, group *models.Group) ([]string, error) {
	cursor, err := s.db.Collection(database.CollectionConversations).
		Find(ctx, bson.M{"groupId": group.ID, "summary": bson.M{"$ne": ""}})
	if err != nil {
		return nil, fmt.Errorf("failed to list member conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var summaries []string
	for cursor.Next(ctx) {
		var conv models.Conversation
		if err := cursor.Decode(&conv); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
		if conv.Summary != "" {
			summaries = append(summaries, "- "+conv.Summary)
		}
	}
	return summaries, cursor.Err()
}
