package deployamqp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/k11v/staticdeploy/internal/deploy"
)

// DefaultQueue is the queue deployment jobs are published to.
const DefaultQueue = "deployment.created"

// DeclareQueue declares the durable job queue on ch.
func DeclareQueue(ch *amqp091.Channel, name string) (amqp091.Queue, error) {
	return ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
}

// Setup declares the job queue on the broker at connectionString.
func Setup(connectionString string, queue string) error {
	conn, err := amqp091.Dial(connectionString)
	if err != nil {
		return fmt.Errorf("deployamqp.Setup: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Error("didn't close amqp connection", "error", closeErr)
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("deployamqp.Setup: %w", err)
	}
	if _, err = DeclareQueue(ch, queue); err != nil {
		return fmt.Errorf("deployamqp.Setup: %w", err)
	}
	return nil
}

// Broker publishes deployment jobs.
type Broker struct {
	connectionString string // required
	queue            string // required
}

func NewBroker(connectionString string, queue string) *Broker {
	if queue == "" {
		queue = DefaultQueue
	}
	return &Broker{
		connectionString: connectionString,
		queue:            queue,
	}
}

// SendJob validates input and publishes it as a persistent message.
func (broker *Broker) SendJob(ctx context.Context, input *deploy.Input) error {
	if err := input.Validate(); err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(input); err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}

	conn, err := amqp091.Dial(broker.connectionString)
	if err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}
	defer ch.Close()

	q, err := DeclareQueue(ch, broker.queue)
	if err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    input.DeploymentID,
		Body:         body.Bytes(),
	}
	err = ch.PublishWithContext(ctx,
		"",     // exchange
		q.Name, // routing key
		false,  // mandatory
		false,  // immediate
		msg,    // message
	)
	if err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}

	return nil
}

// ErrDeliveriesClosed is returned by Consume when the broker closes the
// delivery channel, e.g. after a connection loss.
var ErrDeliveriesClosed = errors.New("delivery channel is closed")

// consumerTag identifies this process's consumer so it can be cancelled.
const consumerTag = "staticdeploy-worker"

// Consume runs one consuming session. Up to slots deliveries are handled
// concurrently; the broker is asked for no more than slots unacknowledged
// messages. handle must acknowledge every delivery.
//
// When ctx is done the consumer is cancelled and Consume returns ctx.Err()
// after the deliveries already being handled are finished. handle is called
// with a context that is not cancelled with ctx.
func (broker *Broker) Consume(ctx context.Context, slots int, handle func(context.Context, amqp091.Delivery)) error {
	if slots < 1 {
		slots = 1
	}

	conn, err := amqp091.Dial(broker.connectionString)
	if err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}
	defer ch.Close()

	q, err := DeclareQueue(ch, broker.queue)
	if err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}

	if err = ch.Qos(slots, 0, false); err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name,      // queue
		consumerTag, // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("deployamqp.Broker: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		if cancelErr := ch.Cancel(consumerTag, false); cancelErr != nil {
			slog.Error("didn't cancel consumer", "error", cancelErr)
		}
	})
	defer stop()

	handleCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for range slots {
		g.Go(func() error {
			for d := range deliveries {
				handle(handleCtx, d)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("deployamqp.Broker: %w", ErrDeliveriesClosed)
}

// DecodeJob decodes and validates a job message body.
// Unknown fields and trailing values are rejected.
func DecodeJob(body []byte) (*deploy.Input, error) {
	var input deploy.Input
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		return nil, fmt.Errorf("decode job: %w: %w", deploy.ErrInvalidInput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode job: %w: %w", deploy.ErrInvalidInput, errors.New("multiple top-level values"))
	}
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &input, nil
}
