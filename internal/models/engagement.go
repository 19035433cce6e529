package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Engagement is one student's scored participation in a session,
// computed from their conversation and the group transcript.
type Engagement struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID primitive.ObjectID `bson:"sessionId" json:"session_id"`
	StudentID string             `bson:"studentId" json:"student_id"`

	MessageCount    int     `bson:"messageCount" json:"message_count"`
	MeanMessageLen  float64 `bson:"meanMessageLen" json:"mean_message_len"`
	SubtaskRatio    float64 `bson:"subtaskRatio" json:"subtask_ratio"`
	OffTopicRatio   float64 `bson:"offTopicRatio" json:"off_topic_ratio"`
	ModerationFlag  bool    `bson:"moderationFlag" json:"moderation_flag"`
	QualityScore    int     `bson:"qualityScore" json:"quality_score"`
	QualityComment  string  `bson:"qualityComment" json:"quality_comment"`

	ComputedAt time.Time `bson:"computedAt" json:"computed_at"`
}
