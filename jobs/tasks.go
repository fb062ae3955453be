package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep deletes expired and long-inactive sessions.
	TaskSessionSweep = "sessions:sweep"
)

// SessionSweepPayload records who requested a sweep run.
type SessionSweepPayload struct {
	Trigger string `json:"trigger"`
}

// NewSessionSweepTask constructs an Asynq task. Unique keeps overlapping
// triggers from queueing duplicate runs.
func NewSessionSweepTask(trigger string) (*asynq.Task, error) {
	if trigger == "" {
		trigger = "scheduler"
	}
	data, err := json.Marshal(SessionSweepPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Unique(5*time.Minute)), nil
}
