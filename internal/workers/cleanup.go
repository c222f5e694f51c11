package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/beacond-dev/beacond/internal/models"
	"github.com/beacond-dev/beacond/internal/tasks"
)

// DefaultRetainDays keeps raw sessions and events for half a year;
// rolled-up stats are kept forever.
const DefaultRetainDays = 180

// HandleSessionCleanup deletes sessions and events older than the
// retention horizon
func HandleSessionCleanup(ctx context.Context, task *asynq.Task, db *gorm.DB, log zerolog.Logger) error {
	payload, err := tasks.ParseCleanupPayload(task)
	if err != nil {
		return err
	}

	retainDays := payload.RetainDays
	if retainDays <= 0 {
		retainDays = DefaultRetainDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retainDays)

	eventsResult := db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Event{})
	if eventsResult.Error != nil {
		return fmt.Errorf("failed to delete old events: %w", eventsResult.Error)
	}

	sessionsResult := db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.Session{})
	if sessionsResult.Error != nil {
		return fmt.Errorf("failed to delete old sessions: %w", sessionsResult.Error)
	}

	log.Info().
		Time("cutoff", cutoff).
		Int64("events_deleted", eventsResult.RowsAffected).
		Int64("sessions_deleted", sessionsResult.RowsAffected).
		Msg("Session cleanup complete")

	return nil
}
