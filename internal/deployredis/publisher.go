package deployredis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// EventType distinguishes the events published for a deployment.
type EventType string

const (
	EventProgress EventType = "progress"
	EventLog      EventType = "log"
	EventStatus   EventType = "status"
)

// Event is published as JSON on the deployment's channel.
type Event struct {
	Type         EventType `json:"type"`
	DeploymentID string    `json:"deployment_id"`
	Progress     int       `json:"progress,omitempty"`
	Line         string    `json:"line,omitempty"`
	Status       string    `json:"status,omitempty"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

// NewClient connects to the Redis server at url, e.g. redis://localhost:6379/0.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("deployredis.NewClient: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("deployredis.NewClient: %w", err)
	}
	return client, nil
}

// Publisher fans deployment events out to subscribers and keeps the latest
// state of each deployment in a hash that expires after stateTTL.
type Publisher struct {
	client   *redis.Client
	prefix   string
	stateTTL time.Duration
	now      func() time.Time
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{
		client:   client,
		prefix:   "staticdeploy:",
		stateTTL: 24 * time.Hour,
		now:      time.Now,
	}
}

// Channel returns the pub/sub channel of deploymentID.
func (p *Publisher) Channel(deploymentID string) string {
	return p.prefix + "events:" + deploymentID
}

// StateKey returns the hash holding the latest state of deploymentID.
func (p *Publisher) StateKey(deploymentID string) string {
	return p.prefix + "state:" + deploymentID
}

func (p *Publisher) PublishProgress(ctx context.Context, deploymentID string, percent int) error {
	return p.publish(ctx, &Event{Type: EventProgress, DeploymentID: deploymentID, Progress: percent}, map[string]any{"progress": percent})
}

func (p *Publisher) PublishLog(ctx context.Context, deploymentID string, line string) error {
	return p.publish(ctx, &Event{Type: EventLog, DeploymentID: deploymentID, Line: line}, nil)
}

// PublishStatus publishes a status change. errMessage is empty unless the
// deployment failed.
func (p *Publisher) PublishStatus(ctx context.Context, deploymentID string, status string, errMessage string) error {
	return p.publish(ctx, &Event{Type: EventStatus, DeploymentID: deploymentID, Status: status, Error: errMessage}, map[string]any{"status": status, "error": errMessage})
}

// State returns the latest state fields of deploymentID.
func (p *Publisher) State(ctx context.Context, deploymentID string) (map[string]string, error) {
	state, err := p.client.HGetAll(ctx, p.StateKey(deploymentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("deployredis.Publisher: %w", err)
	}
	return state, nil
}

func (p *Publisher) publish(ctx context.Context, event *Event, state map[string]any) error {
	event.Time = p.now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("deployredis.Publisher: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Publish(ctx, p.Channel(event.DeploymentID), data)
	if len(state) > 0 {
		key := p.StateKey(event.DeploymentID)
		pipe.HSet(ctx, key, state)
		pipe.Expire(ctx, key, p.stateTTL)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deployredis.Publisher: %w", err)
	}
	return nil
}
