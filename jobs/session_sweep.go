package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/accesscore/internal/jobs"
	"github.com/odyssey-erp/accesscore/internal/sessions"
)

const sessionSweepJobName = "session_sweep"

// Sweeper deletes expired sessions. sessions.Manager satisfies it.
type Sweeper interface {
	SweepExpired(ctx context.Context) (sessions.SweepResult, error)
}

// SessionSweepJob runs the session maintenance sweep.
type SessionSweepJob struct {
	Sweeper Sweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSessionSweepJob constructs the job handler.
func NewSessionSweepJob(sweeper Sweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionSweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionSweepJob{Sweeper: sweeper, Logger: logger, Metrics: metrics}
}

// Handle executes the sweep for an Asynq task.
func (j *SessionSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload SessionSweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.Trigger)
	return err
}

// Run sweeps once. Deleting by predicate makes repeated or concurrent runs
// safe.
func (j *SessionSweepJob) Run(ctx context.Context, trigger string) (sessions.SweepResult, error) {
	if j == nil || j.Sweeper == nil {
		return sessions.SweepResult{}, errors.New("session sweep: dependencies not configured")
	}
	tracker := j.Metrics.Track(sessionSweepJobName)
	result, err := j.Sweeper.SweepExpired(ctx)
	if err != nil {
		j.Logger.Error("session sweep failed", slog.String("trigger", trigger), slog.Any("error", err))
		return result, tracker.End(err)
	}
	j.Metrics.AddSwept("expired", result.Expired)
	j.Metrics.AddSwept("inactive", result.Inactive)
	j.Logger.Info("session sweep completed",
		slog.String("job", sessionSweepJobName),
		slog.String("trigger", trigger),
		slog.Int64("expired", result.Expired),
		slog.Int64("inactive", result.Inactive))
	return result, tracker.End(nil)
}
