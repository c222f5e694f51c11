package workers

import (
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/beacond-dev/beacond/internal/models"
	"github.com/beacond-dev/beacond/internal/tasks"
)

// DefaultRollupSchedule aggregates the previous day shortly after midnight UTC
const DefaultRollupSchedule = "10 0 * * *"

// StartRollupScheduler enqueues rollup and cleanup tasks on a cron schedule.
// It checks every minute whether the schedule's next run has passed, in the
// same shape as a plain cron daemon, so a missed tick (process restart)
// fires on the next check instead of being dropped.
func StartRollupScheduler(client *asynq.Client, db *gorm.DB, schedule string, logger zerolog.Logger) {
	if schedule == "" {
		schedule = DefaultRollupSchedule
	}

	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		logger.Error().Err(err).Str("schedule", schedule).Msg("Invalid rollup schedule - scheduler disabled")
		return
	}

	next := sched.Next(time.Now().UTC())
	logger.Info().Str("schedule", schedule).Time("next_run", next).Msg("Rollup scheduler started")

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now().UTC()
		if now.Before(next) {
			continue
		}

		enqueueRollupTasks(client, db, now, logger)
		next = sched.Next(now)
		logger.Debug().Time("next_run", next).Msg("Rollup run enqueued")
	}
}

// enqueueRollupTasks enqueues a previous-day rollup for every website plus
// one retention cleanup
func enqueueRollupTasks(client *asynq.Client, db *gorm.DB, now time.Time, logger zerolog.Logger) {
	day := now.AddDate(0, 0, -1).Format("2006-01-02")

	var websites []models.Website
	if err := db.Find(&websites).Error; err != nil {
		logger.Error().Err(err).Msg("Failed to list websites for rollup")
		return
	}

	for _, website := range websites {
		task, err := tasks.NewStatsRollupTask(website.ID, day)
		if err != nil {
			logger.Error().Err(err).Str("website_id", website.ID).Msg("Failed to build rollup task")
			continue
		}
		if _, err := client.Enqueue(task, asynq.Queue("low")); err != nil {
			logger.Error().Err(err).Str("website_id", website.ID).Msg("Failed to enqueue rollup task")
		}
	}

	cleanup, err := tasks.NewSessionCleanupTask(DefaultRetainDays)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build cleanup task")
		return
	}
	if _, err := client.Enqueue(cleanup, asynq.Queue("low")); err != nil {
		logger.Error().Err(err).Msg("Failed to enqueue cleanup task")
	}

	logger.Info().Str("day", day).Int("websites", len(websites)).Msg("Rollup tasks enqueued")
}
