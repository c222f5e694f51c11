package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/beacond-dev/beacond/internal/models"
	"github.com/beacond-dev/beacond/internal/tasks"
)

// HandleStatsRollup aggregates one website's events for one UTC day into
// a WebsiteStats row. Re-running the same day overwrites the previous
// counters, so the task is safe to retry.
func HandleStatsRollup(ctx context.Context, task *asynq.Task, db *gorm.DB, log zerolog.Logger) error {
	payload, err := tasks.ParseRollupPayload(task)
	if err != nil {
		return err
	}

	dayStart, err := time.Parse("2006-01-02", payload.Day)
	if err != nil {
		return fmt.Errorf("invalid rollup day %q: %w", payload.Day, err)
	}
	dayEnd := dayStart.Add(24 * time.Hour)

	inDay := func() *gorm.DB {
		return db.WithContext(ctx).Model(&models.Event{}).
			Where("website_id = ? AND created_at >= ? AND created_at < ?", payload.WebsiteID, dayStart, dayEnd)
	}

	var pageviews, events, sessions int64
	if err := inDay().Where("event_name = ''").Count(&pageviews).Error; err != nil {
		return fmt.Errorf("failed to count pageviews: %w", err)
	}
	if err := inDay().Where("event_name <> ''").Count(&events).Error; err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}
	if err := inDay().Distinct("session_id").Count(&sessions).Error; err != nil {
		return fmt.Errorf("failed to count sessions: %w", err)
	}

	var stats models.WebsiteStats
	err = db.WithContext(ctx).
		Where("website_id = ? AND day = ?", payload.WebsiteID, payload.Day).
		First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stats = models.WebsiteStats{WebsiteID: payload.WebsiteID, Day: payload.Day}
	} else if err != nil {
		return fmt.Errorf("failed to load stats row: %w", err)
	}

	stats.Pageviews = pageviews
	stats.Events = events
	stats.Sessions = sessions

	if err := db.WithContext(ctx).Save(&stats).Error; err != nil {
		return fmt.Errorf("failed to save stats row: %w", err)
	}

	log.Info().
		Str("website_id", payload.WebsiteID).
		Str("day", payload.Day).
		Int64("pageviews", pageviews).
		Int64("sessions", sessions).
		Int64("events", events).
		Msg("Stats rollup complete")

	return nil
}
