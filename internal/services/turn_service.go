package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"discourse/internal/llm"
	"discourse/internal/logging"
	"discourse/internal/models"
	"discourse/internal/prompts"
	"discourse/internal/utils"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// tutorOutput is the structured shape of the main tutoring response.
type tutorOutput struct {
	Affirmation string `json:"affirmation"`
	Elaboration string `json:"elaboration"`
	Question    string `json:"question"`
}

var tutorSchema = llm.Schema{
	Name: "tutor_turn",
	Properties: map[string]llm.Property{
		"affirmation": {Type: "string"},
		"elaboration": {Type: "string"},
		"question":    {Type: "string"},
	},
	Required: []string{"affirmation", "elaboration", "question"},
}

type subtaskOutput struct {
	Completed []bool `json:"completed"`
}

var subtaskSchema = llm.Schema{
	Name: "subtask_check",
	Properties: map[string]llm.Property{
		"completed": {Type: "array", Items: &llm.Property{Type: "boolean"}},
	},
	Required: []string{"completed"},
}

type moderationOutput struct {
	Harmful bool `json:"harmful"`
}

var moderationSchema = llm.Schema{
	Name: "moderation_check",
	Properties: map[string]llm.Property{
		"harmful": {Type: "boolean"},
	},
	Required: []string{"harmful"},
}

type offTopicOutput struct {
	OffTopic bool `json:"off_topic"`
}

var offTopicSchema = llm.Schema{
	Name: "offtopic_check",
	Properties: map[string]llm.Property{
		"off_topic": {Type: "boolean"},
	},
	Required: []string{"off_topic"},
}

// TurnService runs one chat turn of the individual tutoring phase: the
// tutor response and the three classification checks run concurrently,
// and the conversation is mutated only after every branch succeeded.
type TurnService struct {
	store    ConversationStore
	caller   llm.Caller
	registry *prompts.Registry
	language *LanguageService
	metrics  *Metrics

	tutorTemperature float64
	tutorTopP        float64
}

// NewTurnService creates a turn service.
func NewTurnService(store ConversationStore, caller llm.Caller, registry *prompts.Registry, language *LanguageService, metrics *Metrics, temperature, topP float64) *TurnService {
	return &TurnService{
		store:            store,
		caller:           caller,
		registry:         registry,
		language:         language,
		metrics:          metrics,
		tutorTemperature: temperature,
		tutorTopP:        topP,
	}
}

// MergeCompleted ORs a fresh completion vector into the previous one.
// The result always has the previous length; a set entry never unsets,
// and a short or long fresh vector cannot corrupt the shape.
func MergeCompleted(prev, fresh []bool) []bool {
	merged := make([]bool, len(prev))
	copy(merged, prev)
	for i := range merged {
		if i < len(fresh) && fresh[i] {
			merged[i] = true
		}
	}
	return merged
}

// NextOffTopicStreak returns the new consecutive off-topic count: one
// more than before when the turn was off-topic, zero otherwise.
func NextOffTopicStreak(prev int, offTopic bool) int {
	if offTopic {
		return prev + 1
	}
	return 0
}

// AssembleReply joins the three tutor parts into the displayed message.
// Each part is full-width-normalized; empty parts are skipped.
func AssembleReply(affirmation, elaboration, question string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{affirmation, elaboration, question} {
		p = utils.NormalizeFullWidth(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Chat runs the turn pipeline for one student message.
//
// Order of operations is load-bearing: the length check happens before
// any read, the history length is captured before the branches run, and
// nothing is written unless all four branches and the cleanup pass
// succeed. Persistence is a single compare-and-swap append of both
// history entries.
func (s *TurnService) Chat(ctx context.Context, studentID, conversationID string, req *models.ChatRequest) (*models.ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrValidation)
	}
	if utf8.RuneCountInString(message) > models.MaxChatMessageLength {
		return nil, ErrMessageTooLong
	}

	oid, err := primitive.ObjectIDFromHex(conversationID)
	if err != nil {
		return nil, ErrNotFound
	}
	conv, err := s.store.GetByID(ctx, oid)
	if err != nil {
		return nil, err
	}
	if conv.StudentID != studentID {
		return nil, ErrForbidden
	}

	s.metrics.TurnRequests.Inc()
	start := time.Now()
	log := logging.WithTurn(conv.SessionID.Hex(), conv.ID.Hex(), studentID)

	baseHistoryLen := len(conv.History)

	var (
		tutor      tutorOutput
		subtask    subtaskOutput
		moderation moderationOutput
		offTopic   offTopicOutput
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		system := prompts.Render(s.registry.Get(prompts.TutorTurn), map[string]string{
			"task":           conv.Task,
			"subtask_status": formatSubtaskStatus(conv.Subtasks, conv.SubtaskCompleted),
			"resources":      formatResources(conv.Resources),
		})
		err := s.caller.Complete(gctx, llm.Request{
			System:      system,
			History:     historyWith(conv.History, message),
			Schema:      tutorSchema,
			Temperature: s.tutorTemperature,
			TopP:        s.tutorTopP,
		}, &tutor)
		return s.stageErr("tutor", err)
	})

	g.Go(func() error {
		system := prompts.Render(s.registry.Get(prompts.SubtaskCheck), map[string]string{
			"task":     conv.Task,
			"subtasks": formatSubtasks(conv.Subtasks),
		})
		err := s.caller.Complete(gctx, llm.Request{
			System:      system,
			History:     historyWith(conv.History, message),
			Schema:      subtaskSchema,
			Temperature: 0.0,
			TopP:        1.0,
		}, &subtask)
		return s.stageErr("subtask", err)
	})

	g.Go(func() error {
		// The moderation check only ever sees the latest message.
		system := prompts.Render(s.registry.Get(prompts.ModerationCheck), map[string]string{
			"message": message,
		})
		err := s.caller.Complete(gctx, llm.Request{
			System:      system,
			History:     []llm.Message{{Role: models.RoleUser, Content: message}},
			Schema:      moderationSchema,
			Temperature: 0.0,
			TopP:        1.0,
		}, &moderation)
		return s.stageErr("moderation", err)
	})

	g.Go(func() error {
		system := prompts.Render(s.registry.Get(prompts.OffTopicCheck), map[string]string{
			"task":           conv.Task,
			"subtasks":       formatSubtasks(conv.Subtasks),
			"last_assistant": lastAssistantMessage(conv.History),
			"message":        message,
		})
		err := s.caller.Complete(gctx, llm.Request{
			System:      system,
			History:     []llm.Message{{Role: models.RoleUser, Content: message}},
			Schema:      offTopicSchema,
			Temperature: 0.0,
			TopP:        1.0,
		}, &offTopic)
		return s.stageErr("offtopic", err)
	})

	if err := g.Wait(); err != nil {
		log.Warn("turn pipeline branch failed", "error", err)
		return nil, ErrTurnFailed
	}

	reply := AssembleReply(tutor.Affirmation, tutor.Elaboration, tutor.Question)
	cleanup, err := s.language.Clean(ctx, reply)
	if err != nil {
		s.metrics.TurnFailures.WithLabelValues("cleanup").Inc()
		log.Warn("language cleanup failed", "error", err)
		return nil, ErrTurnFailed
	}
	if cleanup.ContainsForeignLanguage {
		reply = cleanup.RevisedText
	}

	merged := MergeCompleted(conv.SubtaskCompleted, subtask.Completed)
	warning := models.ConversationWarning{
		Moderation:     conv.Warning.Moderation || moderation.Harmful,
		OffTopicStreak: NextOffTopicStreak(conv.Warning.OffTopicStreak, offTopic.OffTopic),
	}

	if moderation.Harmful {
		s.metrics.ModerationFlags.Inc()
	}
	if offTopic.OffTopic {
		s.metrics.OffTopicTurns.Inc()
	}

	now := time.Now().UTC()
	userMsg := models.ConversationMessage{
		ID:       uuid.NewString(),
		Role:     models.RoleUser,
		Content:  message,
		AudioRef: req.AudioRef,
		Warnings: &models.Warnings{
			Moderation: moderation.Harmful,
			OffTopic:   offTopic.OffTopic,
		},
		SentAt: now,
	}
	assistantMsg := models.ConversationMessage{
		ID:      uuid.NewString(),
		Role:    models.RoleAssistant,
		Content: reply,
		SentAt:  now,
	}

	updated, err := s.store.AppendTurn(ctx, conv.ID, baseHistoryLen, userMsg, assistantMsg, merged, warning)
	if err != nil {
		s.metrics.TurnFailures.WithLabelValues("persist").Inc()
		log.Warn("turn persistence failed", "error", err)
		return nil, err
	}

	s.metrics.TurnLatency.Observe(time.Since(start).Seconds())
	log.Info("turn completed",
		"history_len", len(updated.History),
		"off_topic_streak", updated.Warning.OffTopicStreak,
		"moderation", updated.Warning.Moderation,
	)

	return &models.ChatResponse{
		Response:         reply,
		SubtaskCompleted: updated.SubtaskCompleted,
		Moderation:       updated.Warning.Moderation,
		OffTopicStreak:   updated.Warning.OffTopicStreak,
	}, nil
}

// stageErr counts a branch failure under its stage label.
func (s *TurnService) stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	s.metrics.TurnFailures.WithLabelValues(stage).Inc()
	return fmt.Errorf("%s: %w", stage, err)
}

// historyWith serializes the stored history plus the incoming message
// for the model.
func historyWith(history []models.ConversationMessage, message string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: models.RoleUser, Content: message})
	return msgs
}

// lastAssistantMessage returns the most recent assistant content, or
// empty before the tutor has said anything.
func lastAssistantMessage(history []models.ConversationMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

func formatSubtasks(subtasks []string) string {
	var b strings.Builder
	for i, st := range subtasks {
		fmt.Fprintf(&b, "%d. %s\n", i+1, st)
	}
	return b.String()
}

func formatSubtaskStatus(subtasks []string, completed []bool) string {
	var b strings.Builder
	for i, st := range subtasks {
		status := "未完成"
		if i < len(completed) && completed[i] {
			status = "已完成"
		}
		fmt.Fprintf(&b, "%d. %s（%s）\n", i+1, st, status)
	}
	return b.String()
}

func formatResources(resources []models.Resource) string {
	var b strings.Builder
	for _, r := range resources {
		b.WriteString("## ")
		b.WriteString(r.Title)
		b.WriteString("\n")
		b.WriteString(r.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}
