package main

import (
	"context"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"

	"github.com/k11v/staticdeploy/internal/deploy"
	"github.com/k11v/staticdeploy/internal/deployamqp"
	"github.com/k11v/staticdeploy/internal/deploymetrics"
	"github.com/k11v/staticdeploy/internal/deploypg"
)

// Pipeline runs one deployment.
type Pipeline interface {
	Run(ctx context.Context, input *deploy.Input, job deploy.Job) (*deploy.Result, error)
}

type Handler struct {
	Pipeline Pipeline               // required
	Store    JobStore               // optional
	Events   EventPublisher         // optional
	Metrics  *deploymetrics.Metrics // optional
	Log      *slog.Logger           // optional
}

// Handle runs the deployment carried by d and acknowledges it.
//
// Malformed messages are rejected without requeue. A message whose state
// can't be recorded is requeued once. Pipeline failures are recorded and
// acknowledged; they are not retried.
func (h *Handler) Handle(ctx context.Context, d amqp091.Delivery) {
	log := h.Log
	if log == nil {
		log = slog.Default()
	}

	input, err := deployamqp.DecodeJob(d.Body)
	if err != nil {
		log.Error("didn't decode job", "error", err, "message_id", d.MessageId)
		if h.Metrics != nil {
			h.Metrics.ObserveDeployment(deploymetrics.OutcomeRejected, deploy.KindOf(err), 0)
		}
		_ = d.Nack(false, false)
		return
	}
	log = log.With("deployment_id", input.DeploymentID)

	if h.Store != nil {
		if err = h.Store.Start(ctx, input); err != nil {
			log.Error("didn't start deployment", "error", err, "redelivered", d.Redelivered)
			_ = d.Nack(false, !d.Redelivered)
			return
		}
	}

	job := &fanOutJob{id: input.DeploymentID, store: h.Store, events: h.Events, log: log}
	job.status(ctx, string(deploypg.StatusRunning), "")

	var done func(outcome, kind string, uploadedFiles int)
	if h.Metrics != nil {
		done = h.Metrics.Start()
	}

	log.Info("running deployment")
	result, err := h.Pipeline.Run(ctx, input, job)
	if err != nil {
		log.Error("didn't run deployment", "error", err, "kind", deploy.KindOf(err))
		if h.Store != nil {
			if storeErr := h.Store.Fail(ctx, input.DeploymentID, err); storeErr != nil {
				log.Error("didn't record failure", "error", storeErr)
			}
		}
		job.status(ctx, string(deploypg.StatusFailed), err.Error())
		if done != nil {
			done(deploymetrics.OutcomeFailed, deploy.KindOf(err), 0)
		}
		_ = d.Ack(false)
		return
	}

	if h.Store != nil {
		if storeErr := h.Store.Complete(ctx, input.DeploymentID, result); storeErr != nil {
			log.Error("didn't record result", "error", storeErr)
		}
	}
	job.status(ctx, string(deploypg.StatusDone), "")
	if done != nil {
		done(deploymetrics.OutcomeSucceeded, "", result.UploadedFiles)
	}
	log.Info("ran deployment", "files", result.UploadedFiles)
	_ = d.Ack(false)
}
