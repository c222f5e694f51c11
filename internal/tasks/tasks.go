package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	// Per-website daily aggregation of events into WebsiteStats
	TypeStatsRollup = "stats:rollup"
	// Retention trim of old sessions and events
	TypeSessionCleanup = "sessions:cleanup"
)

// RollupPayload identifies the website and UTC day to aggregate
type RollupPayload struct {
	WebsiteID string `json:"website_id"`
	Day       string `json:"day"` // YYYY-MM-DD (UTC)
}

// CleanupPayload sets the retention horizon for the cleanup task
type CleanupPayload struct {
	RetainDays int `json:"retain_days"`
}

// NewStatsRollupTask creates a task to aggregate one website's day
func NewStatsRollupTask(websiteID, day string) (*asynq.Task, error) {
	payload, err := json.Marshal(RollupPayload{
		WebsiteID: websiteID,
		Day:       day,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeStatsRollup, payload), nil
}

// NewSessionCleanupTask creates a task to trim sessions older than retainDays
func NewSessionCleanupTask(retainDays int) (*asynq.Task, error) {
	payload, err := json.Marshal(CleanupPayload{RetainDays: retainDays})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeSessionCleanup, payload), nil
}

// ParseRollupPayload parses a stats rollup payload from an Asynq task
func ParseRollupPayload(task *asynq.Task) (RollupPayload, error) {
	var payload RollupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}

// ParseCleanupPayload parses a session cleanup payload from an Asynq task
func ParseCleanupPayload(task *asynq.Task) (CleanupPayload, error) {
	var payload CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}
