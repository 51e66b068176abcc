package main

import (
	"context"
	"log/slog"

	"github.com/k11v/staticdeploy/internal/deploy"
)

// JobStore persists deployment state.
type JobStore interface {
	Start(ctx context.Context, input *deploy.Input) error
	SetProgress(ctx context.Context, id string, percent int) error
	AppendLog(ctx context.Context, id string, line string) error
	Complete(ctx context.Context, id string, result *deploy.Result) error
	Fail(ctx context.Context, id string, cause error) error
}

// EventPublisher pushes live deployment events to subscribers.
type EventPublisher interface {
	PublishProgress(ctx context.Context, deploymentID string, percent int) error
	PublishLog(ctx context.Context, deploymentID string, line string) error
	PublishStatus(ctx context.Context, deploymentID string, status string, errMessage string) error
}

var _ deploy.Job = (*fanOutJob)(nil)

// fanOutJob forwards the pipeline's side channel to the store, the event
// publisher and the process log. Failures are logged and never fail the job.
type fanOutJob struct {
	id     string
	store  JobStore       // optional
	events EventPublisher // optional
	log    *slog.Logger   // required
}

func (j *fanOutJob) ReportProgress(ctx context.Context, percent int) {
	j.log.Debug("reported progress", "progress", percent)
	if j.store != nil {
		if err := j.store.SetProgress(ctx, j.id, percent); err != nil {
			j.log.Error("didn't store progress", "error", err)
		}
	}
	if j.events != nil {
		if err := j.events.PublishProgress(ctx, j.id, percent); err != nil {
			j.log.Error("didn't publish progress", "error", err)
		}
	}
}

func (j *fanOutJob) AppendLog(ctx context.Context, line string) {
	j.log.Debug("appended log", "line", line)
	if j.store != nil {
		if err := j.store.AppendLog(ctx, j.id, line); err != nil {
			j.log.Error("didn't store log line", "error", err)
		}
	}
	if j.events != nil {
		if err := j.events.PublishLog(ctx, j.id, line); err != nil {
			j.log.Error("didn't publish log line", "error", err)
		}
	}
}

func (j *fanOutJob) status(ctx context.Context, status string, errMessage string) {
	if j.events != nil {
		if err := j.events.PublishStatus(ctx, j.id, status, errMessage); err != nil {
			j.log.Error("didn't publish status", "error", err)
		}
	}
}
