package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Session status values. Transitions only move forward:
// preparing -> individual -> before-group -> group -> ended.
const (
	SessionPreparing   = "preparing"
	SessionIndividual  = "individual"
	SessionBeforeGroup = "before-group"
	SessionGroup       = "group"
	SessionEnded       = "ended"
)

// Session is one discussion activity, created by a teacher from a
// template. Title/task/subtasks/resources are frozen copies; later
// template edits never affect a running session.
type Session struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	HostID     string             `bson:"hostId" json:"host_id"`
	TemplateID primitive.ObjectID `bson:"templateId" json:"template_id"`

	Title     string     `bson:"title" json:"title"`
	Task      string     `bson:"task" json:"task"`
	Subtasks  []string   `bson:"subtasks" json:"subtasks"`
	Resources []Resource `bson:"resources" json:"resources"`

	Status string   `bson:"status" json:"status"`
	Labels []string `bson:"labels" json:"labels"`

	Settings SessionSettings `bson:"settings" json:"settings"`

	ParticipantIDs []string `bson:"participantIds" json:"participant_ids"`

	// Phases records start/end timestamps keyed by status name.
	Phases map[string]PhaseWindow `bson:"phases" json:"phases"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// PhaseWindow marks when a session phase began and ended.
type PhaseWindow struct {
	StartedAt time.Time  `bson:"startedAt" json:"started_at"`
	EndedAt   *time.Time `bson:"endedAt,omitempty" json:"ended_at,omitempty"`
}

// SessionSettings are host-tunable knobs for a session.
type SessionSettings struct {
	AutoGroup bool `bson:"autoGroup" json:"auto_group"`
	GroupSize int  `bson:"groupSize" json:"group_size"`
}

// CreateSessionRequest is the body for creating a session from a template.
type CreateSessionRequest struct {
	TemplateID string           `json:"template_id"`
	Title      string           `json:"title,omitempty"`
	Labels     []string         `json:"labels,omitempty"`
	Settings   *SessionSettings `json:"settings,omitempty"`
}

// UpdateSessionRequest updates labels and/or settings on a session.
type UpdateSessionRequest struct {
	Labels   []string         `json:"labels,omitempty"`
	Settings *SessionSettings `json:"settings,omitempty"`
}

// PhaseRequest asks for a phase transition.
type PhaseRequest struct {
	Status string `json:"status"`
}
