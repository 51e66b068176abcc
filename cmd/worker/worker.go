package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Consumer runs one consuming session until it fails or ctx is done.
type Consumer interface {
	Consume(ctx context.Context, slots int, handle func(context.Context, amqp091.Delivery)) error
}

type Worker struct {
	Consumer Consumer // required
	Handler  *Handler // required
	Slots    int      // default: 1

	// wait returns the delay before the given retry. It defaults to
	// retryWaitDuration.
	wait func(retry int) time.Duration
}

// Run consumes deliveries until ctx is done, reconnecting after failures.
// It returns nil after a graceful shutdown.
func (w *Worker) Run(ctx context.Context) error {
	wait := w.wait
	if wait == nil {
		wait = retryWaitDuration
	}

	retries := 0
	for {
		started := time.Now()
		slog.Info("starting consuming", "slots", w.Slots)
		consumeErr := w.Consumer.Consume(ctx, w.Slots, w.Handler.Handle)
		if ctx.Err() != nil {
			slog.Info("stopped consuming")
			return nil
		}
		slog.Error("didn't consume", "error", consumeErr)

		// A session that lasted a while counts as a recovery.
		if time.Since(started) > time.Minute && retries > 0 {
			slog.Info("recovered", "retries", retries)
			retries = 0
		}

		retries++
		select {
		case <-time.After(wait(retries - 1)):
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}
		slog.Info("retrying", "retries", retries)
	}
}

// retryWaitDuration calculates the wait duration for a retry.
// It is calculated using exponential backoff with jitter.
// It grows with each retry and stops growing after thirteenth retry
// where it is chosen from the the interval (32.4s, 97.4s).
// The first retry number is 0, the thirteenth is 12.
func retryWaitDuration(retry int) time.Duration {
	n := min(retry, 12)
	second := int(time.Second)

	// start with 0.5s
	duration := second / 2

	// multiply by 1.5 to the power of n
	for i := 0; i < n; i++ {
		duration /= 2
		duration *= 3
	}

	// add or subtract up to 50%
	jitter := rand.IntN(duration) - duration/2
	duration += jitter

	return time.Duration(duration)
}
