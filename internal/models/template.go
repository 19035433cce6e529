package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Template is a reusable task/subtask/resource bundle owned by a
// teacher. Public templates can be cloned by other teachers.
type Template struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID string             `bson:"ownerId" json:"owner_id"`

	Title     string     `bson:"title" json:"title"`
	Task      string     `bson:"task" json:"task"`
	Subtasks  []string   `bson:"subtasks" json:"subtasks"`
	Resources []Resource `bson:"resources" json:"resources"`

	IsPublic bool `bson:"isPublic" json:"is_public"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// Resource is one reference document embedded in templates, sessions
// and conversations. Content is plain text; PDF uploads are extracted
// to text before storage.
type Resource struct {
	Title   string `bson:"title" json:"title"`
	Content string `bson:"content" json:"content"`
}

// CreateTemplateRequest is the body for creating or updating a template.
type CreateTemplateRequest struct {
	Title     string     `json:"title"`
	Task      string     `json:"task"`
	Subtasks  []string   `json:"subtasks"`
	Resources []Resource `json:"resources,omitempty"`
	IsPublic  bool       `json:"is_public"`
}
