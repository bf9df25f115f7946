package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/bobarin/stockreel/internal/models"
)

const (
	QueueBuildRun = "queue:build_run"

	JobTypeBuildRun = "build_run"
)

type Queue struct {
	client *redis.Client
}

type Job struct {
	ID        uuid.UUID              `json:"id"`
	Type      string                 `json:"type"`
	RunID     uuid.UUID              `json:"run_id"`
	Attempt   int                    `json:"attempt,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job) error {
	job.CreatedAt = time.Now()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return q.client.RPush(ctx, queueName, data).Err()
}

func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, queueName).Result()
	if err == redis.Nil {
		return nil, nil // No job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (q *Queue) GetQueueLength(ctx context.Context, queueName string) (int64, error) {
	return q.client.LLen(ctx, queueName).Result()
}

// EnqueueBuildRun enqueues a run for the worker.
func (q *Queue) EnqueueBuildRun(ctx context.Context, runID uuid.UUID) error {
	job := &Job{
		ID:    uuid.New(),
		Type:  JobTypeBuildRun,
		RunID: runID,
	}
	return q.Enqueue(ctx, QueueBuildRun, job)
}

// ---------------------------------------------------------------------------
// Progress events
// ---------------------------------------------------------------------------

// EventChannel is the pub/sub channel carrying a run's progress events.
func EventChannel(runID uuid.UUID) string {
	return fmt.Sprintf("run:%s:events", runID)
}

// PublishEvent fans a progress event out to every subscriber of its run.
func (q *Queue) PublishEvent(ctx context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return q.client.Publish(ctx, EventChannel(event.RunID), data).Err()
}

// Subscription delivers one run's events until Close is called.
type Subscription struct {
	Events <-chan models.Event
	close  func() error
}

// NewSubscription wraps an event channel and the func that tears it down.
func NewSubscription(events <-chan models.Event, closeFn func() error) *Subscription {
	return &Subscription{Events: events, close: closeFn}
}

func (s *Subscription) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// SubscribeEvents subscribes to a run's progress events. Malformed
// messages are dropped.
func (q *Queue) SubscribeEvents(ctx context.Context, runID uuid.UUID) (*Subscription, error) {
	pubsub := q.client.Subscribe(ctx, EventChannel(runID))

	// Wait for confirmation so no event published after this call is lost
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan models.Event, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return NewSubscription(out, pubsub.Close), nil
}
