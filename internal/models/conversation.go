package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message roles within a conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxChatMessageLength is a hard limit on a single student message.
// Longer inputs are rejected outright, never truncated.
const MaxChatMessageLength = 500

// Conversation is the individual-phase tutoring record: one per
// (session, group, student). Created when the session enters its
// individual phase; mutated by each chat turn.
type Conversation struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID primitive.ObjectID `bson:"sessionId" json:"session_id"`
	GroupID   primitive.ObjectID `bson:"groupId" json:"group_id"`
	StudentID string             `bson:"studentId" json:"student_id"`

	// Task context frozen from the session at creation time.
	Task      string     `bson:"task" json:"task"`
	Subtasks  []string   `bson:"subtasks" json:"subtasks"`
	Resources []Resource `bson:"resources" json:"resources"`

	History []ConversationMessage `bson:"history" json:"history"`

	// SubtaskCompleted is parallel to Subtasks; len(SubtaskCompleted)
	// must always equal len(Subtasks). Entries only ever flip false->true.
	SubtaskCompleted []bool `bson:"subtaskCompleted" json:"subtask_completed"`

	Warning ConversationWarning `bson:"warning" json:"warning"`

	// Summary and KeyPoints are written once, at the end of the
	// individual phase, and never overwritten afterwards.
	Summary   string   `bson:"summary,omitempty" json:"summary,omitempty"`
	KeyPoints []string `bson:"keyPoints,omitempty" json:"key_points,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// ConversationMessage is one entry in the ordered history.
type ConversationMessage struct {
	ID       string    `bson:"id" json:"id"`
	Role     string    `bson:"role" json:"role"`
	Content  string    `bson:"content" json:"content"`
	AudioRef string    `bson:"audioRef,omitempty" json:"audio_ref,omitempty"`
	Warnings *Warnings `bson:"warnings,omitempty" json:"warnings,omitempty"`
	SentAt   time.Time `bson:"sentAt" json:"sent_at"`
}

// Warnings are the per-message classification results attached to a
// user message at turn time. Assistant messages never carry warnings.
type Warnings struct {
	Moderation bool `bson:"moderation" json:"moderation"`
	OffTopic   bool `bson:"offTopic" json:"off_topic"`
}

// ConversationWarning holds the conversation-level aggregates. The two
// fields deliberately have different lifetimes:
//
//   - Moderation is sticky: once true it stays true for the lifetime of
//     the conversation.
//   - OffTopicStreak is volatile: it counts consecutive off-topic turns
//     and resets to zero on any on-topic turn.
type ConversationWarning struct {
	Moderation     bool `bson:"moderation" json:"moderation"`
	OffTopicStreak int  `bson:"offTopicStreak" json:"off_topic_streak"`
}

// ChatRequest is the body of a chat turn request.
type ChatRequest struct {
	Message  string `json:"message"`
	AudioRef string `json:"audio_ref,omitempty"`
}

// ChatResponse is returned for a successful turn.
type ChatResponse struct {
	Response         string `json:"response"`
	SubtaskCompleted []bool `json:"subtask_completed"`
	Moderation       bool   `json:"moderation"`
	OffTopicStreak   int    `json:"off_topic_streak"`
}

// ConversationSummaryResponse is returned by the summarize endpoint.
type ConversationSummaryResponse struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}
