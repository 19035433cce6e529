package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis channels for phase fanout.
const (
	ChannelSessionPhase   = "discourse:session-phase"
	ChannelGroupFinalized = "discourse:group-finalized"
)

// PhaseEvent is the payload published when a session changes phase or a
// group is finalized.
type PhaseEvent struct {
	SessionID string    `json:"session_id"`
	GroupID   string    `json:"group_id,omitempty"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

// PhaseEvents publishes phase changes over Redis so other instances and
// realtime frontends can react. A nil receiver is a no-op; Redis is
// optional infrastructure.
type PhaseEvents struct {
	client *redis.Client
}

// NewPhaseEvents creates the publisher. Returns nil when redisURL is
// empty, which disables publishing everywhere.
func NewPhaseEvents(redisURL string) (*PhaseEvents, error) {
	if redisURL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	log.Println("✅ Connected to Redis for phase events")
	return &PhaseEvents{client: client}, nil
}

// PublishSessionPhase announces a session phase transition. Publish
// failures are logged, never propagated; events are best-effort.
func (p *PhaseEvents) PublishSessionPhase(ctx context.Context, sessionID, status string) {
	p.publish(ctx, ChannelSessionPhase, PhaseEvent{
		SessionID: sessionID,
		Status:    status,
		At:        time.Now().UTC(),
	})
}

// PublishGroupFinalized announces a finalized group concept.
func (p *PhaseEvents) PublishGroupFinalized(ctx context.Context, sessionID, groupID string) {
	p.publish(ctx, ChannelGroupFinalized, PhaseEvent{
		SessionID: sessionID,
		GroupID:   groupID,
		Status:    "finalized",
		At:        time.Now().UTC(),
	})
}

func (p *PhaseEvents) publish(ctx context.Context, channel string, event PhaseEvent) {
	if p == nil || p.client == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️ Failed to marshal phase event: %v", err)
		return
	}
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		log.Printf("⚠️ Failed to publish phase event: %v", err)
	}
}

// Close shuts the Redis connection down.
func (p *PhaseEvents) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
