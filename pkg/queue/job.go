package queue

import (
	"context"
	"encoding/json"
)

// Job handles one message type. A returned error schedules a delayed retry
// until the attempt budget runs out; context.Canceled drops the message.
type Job interface {
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}
