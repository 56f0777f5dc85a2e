package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"EpiCast/pkg/logger"
)

const retryBatch = 100

// ErrUnknownType is returned when enqueueing a type with no registered job.
var ErrUnknownType = errors.New("queue: no job registered for type")

type keys struct {
	pending string // list, LPUSH in and BRPOP out
	retry   string // sorted set scored by due time in unix millis
	dead    string // list of exhausted messages
}

func newKeys(prefix string) keys {
	return keys{
		pending: prefix + ":messages",
		retry:   prefix + ":retry",
		dead:    prefix + ":dlq",
	}
}

// RedisQueue is a Redis list queue with a delayed-retry sorted set and a dead letter list.
type RedisQueue struct {
	logger *logger.Logger
	config *QueueConfig
	client *redis.Client
	keys   keys

	mu      sync.RWMutex
	jobs    map[string]Job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces every key the queue touches.
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		r.keys = newKeys(prefix)
	}
}

func NewRedisQueue(lgr *logger.Logger, config *QueueConfig, client *redis.Client, opts ...RedisQueueOption) *RedisQueue {
	if lgr == nil {
		lgr = logger.Nop()
	}
	rq := &RedisQueue{
		logger: lgr,
		config: config.withDefaults(),
		client: client,
		keys:   newKeys("epicast:queue"),
		jobs:   make(map[string]Job),
	}
	for _, opt := range opts {
		opt(rq)
	}
	return rq
}

// RegisterJob binds a job to its message type. The first registration wins.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Debug("job registered", logger.String("type", job.Type()))
}

func (r *RedisQueue) job(msgType string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[msgType]
	return j, ok
}

// Start pings Redis and launches the workers and the retry poller.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("queue already running")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := r.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.work(ctx, i)
	}
	r.wg.Add(1)
	go r.pollRetries(ctx)

	r.logger.Info("redis queue started",
		logger.Int("workers", r.config.Workers),
		logger.String("queue", r.keys.pending))
	return nil
}

// Stop cancels in-flight handlers and waits for the workers until ctx expires.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		r.logger.Warn("queue workers still running at shutdown", logger.Error(ctx.Err()))
		return fmt.Errorf("stop queue: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped")
		return nil
	}
}

// Enqueue pushes a message for a registered type and returns its id.
func (r *RedisQueue) Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error) {
	if _, ok := r.job(msgType); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, msgType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	msg := Message{
		ID:         uuid.NewString(),
		Type:       msgType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := r.push(ctx, r.keys.pending, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// PublishMessage implements Publisher.
func (r *RedisQueue) PublishMessage(ctx context.Context, msgType string, payload interface{}) (string, error) {
	return r.Enqueue(ctx, msgType, payload)
}

// Depth reports pending, delayed and dead-lettered message counts.
func (r *RedisQueue) Depth(ctx context.Context) (pending, retrying, dead int64, err error) {
	pipe := r.client.Pipeline()
	p := pipe.LLen(ctx, r.keys.pending)
	z := pipe.ZCard(ctx, r.keys.retry)
	d := pipe.LLen(ctx, r.keys.dead)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return p.Val(), z.Val(), d.Val(), nil
}

// RequeueDead moves up to limit dead-lettered messages back to the pending
// list with a fresh attempt budget. A limit <= 0 moves all of them.
func (r *RedisQueue) RequeueDead(ctx context.Context, limit int) (int, error) {
	moved := 0
	for limit <= 0 || moved < limit {
		raw, err := r.client.RPop(ctx, r.keys.dead).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("rpop dlq: %w", err)
		}
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			r.logger.Error("dropping undecodable dead letter", logger.Error(err))
			continue
		}
		msg.Attempts = 0
		msg.LastError = ""
		if err := r.push(ctx, r.keys.pending, msg); err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		r.logger.Info("dead letters requeued", logger.Int("count", moved))
	}
	return moved, nil
}

func (r *RedisQueue) work(ctx context.Context, id int) {
	defer r.wg.Done()
	for ctx.Err() == nil {
		msg, ok := r.next(ctx)
		if ok {
			r.processMessage(ctx, msg)
		}
	}
	r.logger.Debug("queue worker exited", logger.Int("worker_id", id))
}

func (r *RedisQueue) next(ctx context.Context) (Message, bool) {
	var msg Message
	result, err := r.client.BRPop(ctx, r.config.BlockFor, r.keys.pending).Result()
	switch {
	case err == nil:
	case errors.Is(err, redis.Nil), ctx.Err() != nil:
		return msg, false
	default:
		r.logger.Error("brpop", logger.Error(err))
		sleep(ctx, time.Second)
		return msg, false
	}
	if len(result) < 2 {
		return msg, false
	}
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		r.logger.Error("undecodable message", logger.Error(err))
		return msg, false
	}
	return msg, true
}

func (r *RedisQueue) processMessage(ctx context.Context, msg Message) {
	job, ok := r.job(msg.Type)
	if !ok {
		msg.LastError = ErrUnknownType.Error()
		r.logger.Error("no job for message",
			logger.String("type", msg.Type),
			logger.String("id", msg.ID))
		r.bury(msg)
		return
	}

	start := time.Now()
	err := job.Handle(ctx, msg.Payload)
	switch {
	case err == nil:
		r.logger.Info("message processed",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Duration("took", time.Since(start)))
	case errors.Is(err, context.Canceled):
		r.logger.Warn("message cancelled", logger.String("id", msg.ID))
	default:
		r.fail(msg, err)
	}
}

func (r *RedisQueue) fail(msg Message, err error) {
	msg.LastError = err.Error()
	if msg.Attempts >= r.config.RetryLimit {
		r.logger.Error("message dead-lettered",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Int("attempts", msg.Attempts+1),
			logger.Error(err))
		r.bury(msg)
		return
	}

	msg.Attempts++
	delay := r.config.backoff(msg.Attempts)
	r.logger.Warn("message failed, retry scheduled",
		logger.String("id", msg.ID),
		logger.Int("attempt", msg.Attempts),
		logger.Duration("delay", delay),
		logger.Error(err))

	data, mErr := json.Marshal(msg)
	if mErr != nil {
		r.logger.Error("encode retry", logger.Error(mErr))
		return
	}
	due := time.Now().Add(delay).UnixMilli()
	if zErr := r.client.ZAdd(context.Background(), r.keys.retry, redis.Z{Score: float64(due), Member: data}).Err(); zErr != nil {
		r.logger.Error("schedule retry", logger.Error(zErr))
	}
}

func (r *RedisQueue) bury(msg Message) {
	if err := r.push(context.Background(), r.keys.dead, msg); err != nil {
		r.logger.Error("dead-letter", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (r *RedisQueue) push(ctx context.Context, key string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

func (r *RedisQueue) pollRetries(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.promoteDue(ctx, time.Now())
		}
	}
}

// promoteDue moves retries whose due time is at or before now back to the
// pending list. ZREM guards against two pollers promoting the same member.
func (r *RedisQueue) promoteDue(ctx context.Context, now time.Time) int {
	due, err := r.client.ZRangeByScore(ctx, r.keys.retry, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: retryBatch,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("scan retries", logger.Error(err))
		}
		return 0
	}

	promoted := 0
	for _, member := range due {
		removed, err := r.client.ZRem(ctx, r.keys.retry, member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := r.client.LPush(ctx, r.keys.pending, member).Err(); err != nil {
			r.logger.Error("promote retry", logger.Error(err))
			continue
		}
		promoted++
	}
	return promoted
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

var _ Publisher = (*RedisQueue)(nil)
