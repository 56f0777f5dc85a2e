package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Publisher enqueues typed messages.
type Publisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) (string, error)
}

// QueueConfig tunes workers and the retry schedule.
type QueueConfig struct {
	Workers    int
	RetryLimit int           // attempts after the first before dead-lettering
	RetryDelay time.Duration // first retry delay, doubled per attempt
	MaxDelay   time.Duration // backoff cap
	PollEvery  time.Duration // retry set scan interval
	BlockFor   time.Duration // BRPOP timeout per worker loop
}

func (c *QueueConfig) withDefaults() *QueueConfig {
	out := QueueConfig{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = 1
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = 10 * time.Second
	}
	if out.MaxDelay < out.RetryDelay {
		out.MaxDelay = 16 * out.RetryDelay
	}
	if out.PollEvery <= 0 {
		out.PollEvery = 5 * time.Second
	}
	if out.BlockFor <= 0 {
		out.BlockFor = time.Second
	}
	return &out
}

// backoff returns the delay before the given retry attempt (1-based).
func (c *QueueConfig) backoff(attempt int) time.Duration {
	d := c.RetryDelay
	for i := 1; i < attempt && d < c.MaxDelay; i++ {
		d *= 2
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// Message is the envelope stored in Redis.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ParsePayload decodes a message payload into T.
func ParsePayload[T any](payload json.RawMessage) (*T, error) {
	var result T
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &result, nil
}
