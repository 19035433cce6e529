package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Group status values: discussion -> summarize -> end.
const (
	GroupDiscussion = "discussion"
	GroupSummarize  = "summarize"
	GroupEnd        = "end"
)

// Group holds one discussion group's participants, transcript and
// final concept within a session.
type Group struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID primitive.ObjectID `bson:"sessionId" json:"session_id"`
	Name      string             `bson:"name" json:"name"`

	ParticipantIDs []string `bson:"participantIds" json:"participant_ids"`

	Status     string            `bson:"status" json:"status"`
	Discussion []TranscriptEntry `bson:"discussion" json:"discussion"`

	// Concept is written exactly once when the group is finalized.
	// A set concept acts as a phase lock: no code path may overwrite it
	// outside the finalize transition.
	Concept *GroupConcept `bson:"concept,omitempty" json:"concept,omitempty"`

	KeywordFreq map[string]int `bson:"keywordFreq" json:"keyword_freq"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// TranscriptEntry is one spoken/typed contribution in the group phase.
type TranscriptEntry struct {
	SpeakerID string    `bson:"speakerId" json:"speaker_id"`
	Content   string    `bson:"content" json:"content"`
	AudioRef  string    `bson:"audioRef,omitempty" json:"audio_ref,omitempty"`
	SentAt    time.Time `bson:"sentAt" json:"sent_at"`
}

// GroupConcept is the group-level summary written at finalize time.
type GroupConcept struct {
	Summary     string    `bson:"summary" json:"summary"`
	KeyPoints   []string  `bson:"keyPoints" json:"key_points"`
	FinalizedAt time.Time `bson:"finalizedAt" json:"finalized_at"`
}

// CreateGroupRequest creates a manual group while the session prepares.
type CreateGroupRequest struct {
	Name string `json:"name"`
}

// TranscriptRequest appends one entry to a group discussion.
type TranscriptRequest struct {
	Content  string `json:"content"`
	AudioRef string `json:"audio_ref,omitempty"`
}
