package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"discourse/internal/config"
	"discourse/internal/database"
	"discourse/internal/models"
	"discourse/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
)

// Scheduler owns the background maintenance jobs: conversation
// retention cleanup and stale-session auto-end.
type Scheduler struct {
	scheduler gocron.Scheduler
	db        *database.MongoDB
	sessions  *services.SessionService
	cfg       *config.Config
}

// NewScheduler validates the cron expression and registers the jobs.
// Jobs run in UTC.
func NewScheduler(db *database.MongoDB, sessions *services.SessionService, cfg *config.Config) (*Scheduler, error) {
	// Fail fast on a malformed expression instead of at first tick.
	if _, err := cron.ParseStandard(cfg.CleanupCron); err != nil {
		return nil, fmt.Errorf("invalid CLEANUP_CRON %q: %w", cfg.CleanupCron, err)
	}

	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	s := &Scheduler{
		scheduler: scheduler,
		db:        db,
		sessions:  sessions,
		cfg:       cfg,
	}

	if _, err := scheduler.NewJob(
		gocron.CronJob(cfg.CleanupCron, false),
		gocron.NewTask(s.runRetentionCleanup),
		gocron.WithName("retention-cleanup"),
	); err != nil {
		return nil, fmt.Errorf("failed to register retention job: %w", err)
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(s.runStaleSessionSweep),
		gocron.WithName("stale-session-sweep"),
	); err != nil {
		return nil, fmt.Errorf("failed to register stale-session job: %w", err)
	}

	return s, nil
}

// Start begins job execution.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	log.Printf("✅ Scheduler started (%d jobs)", len(s.scheduler.Jobs()))
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

// runRetentionCleanup deletes conversations belonging to sessions that
// ended more than RetentionDays ago. Sessions and groups stay; only the
// raw dialogue is subject to retention.
func (s *Scheduler) runRetentionCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)

	cursor, err := s.db.Collection(database.CollectionSessions).Find(ctx, bson.M{
		"status":    models.SessionEnded,
		"updatedAt": bson.M{"$lt": cutoff},
	})
	if err != nil {
		log.Printf("⚠️ Retention cleanup query failed: %v", err)
		return
	}
	defer cursor.Close(ctx)

	var removed int64
	for cursor.Next(ctx) {
		var session models.Session
		if err := cursor.Decode(&session); err != nil {
			log.Printf("⚠️ Retention cleanup decode failed: %v", err)
			continue
		}

		result, err := s.db.Collection(database.CollectionConversations).
			DeleteMany(ctx, bson.M{"sessionId": session.ID})
		if err != nil {
			log.Printf("⚠️ Retention cleanup for session %s failed: %v", session.ID.Hex(), err)
			continue
		}
		removed += result.DeletedCount
	}

	if removed > 0 {
		log.Printf("🧹 Retention cleanup removed %d conversation(s)", removed)
	}
}

// runStaleSessionSweep force-ends sessions stuck in a live phase past
// the configured cutoff, so abandoned classes do not linger forever.
func (s *Scheduler) runStaleSessionSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-s.cfg.StaleSessionAfter)

	cursor, err := s.db.Collection(database.CollectionSessions).Find(ctx, bson.M{
		"status":    bson.M{"$in": []string{models.SessionIndividual, models.SessionBeforeGroup, models.SessionGroup}},
		"updatedAt": bson.M{"$lt": cutoff},
	})
	if err != nil {
		log.Printf("⚠️ Stale-session query failed: %v", err)
		return
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var session models.Session
		if err := cursor.Decode(&session); err != nil {
			log.Printf("⚠️ Stale-session decode failed: %v", err)
			continue
		}
		if err := s.sessions.End(ctx, session.ID, session.Status); err != nil {
			log.Printf("⚠️ Failed to auto-end session %s: %v", session.ID.Hex(), err)
			continue
		}
		log.Printf("🧹 Auto-ended stale session %s (was %s)", session.ID.Hex(), session.Status)
	}
}
