package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCalendarSync triggers one server-side calendar sync run.
	TaskCalendarSync = "calendar:sync"
	// TaskSessionPurge removes expired rows from the sessions table.
	TaskSessionPurge = "sessions:purge"
)

// CalendarSyncPayload records who asked for a sync.
type CalendarSyncPayload struct {
	Trigger string `json:"trigger"`
}

// NewCalendarSyncTask constructs an Asynq task.
func NewCalendarSyncTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "cron"
	}
	data, err := json.Marshal(CalendarSyncPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCalendarSync, data), nil
}

// NewSessionPurgeTask constructs an Asynq task.
func NewSessionPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPurge, nil)
}
