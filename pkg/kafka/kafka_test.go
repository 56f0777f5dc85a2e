package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	mu        sync.Mutex
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type funcHandler struct {
	topic string
	fn    func(context.Context, []byte) error
}

func (h funcHandler) Topic() string { return h.topic }
func (h funcHandler) Handle(ctx context.Context, b []byte) error { return h.fn(ctx, b) }

func headerMap(m kafka.Message) map[string]string {
	out := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestProducerPublishBatch(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "snappy")
	p.source = "epicast"

	err := p.PublishBatch(context.Background(), "forecast.generated", []Message{
		{Key: "370", Event: "forecasts_generated", Value: map[string]int{"count": 3}, Headers: map[string]string{"trace_id": "t1"}},
		{Value: "raw"},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)

	first := w.msgs[0]
	assert.Equal(t, "forecast.generated", first.Topic)
	assert.Equal(t, []byte("370"), first.Key)
	assert.JSONEq(t, `{"count":3}`, string(first.Value))
	assert.Equal(t, map[string]string{
		HeaderEvent:       "forecasts_generated",
		HeaderSource:      "epicast",
		HeaderContentType: "application/json",
		"trace_id":        "t1",
	}, headerMap(first))

	second := w.msgs[1]
	assert.Nil(t, second.Key)
	assert.Equal(t, []byte("raw"), second.Value)
	assert.Equal(t, "text/plain", headerMap(second)[HeaderContentType])
	assert.NotContains(t, headerMap(second), HeaderEvent)

	assert.NoError(t, p.PublishBatch(context.Background(), "x", nil))
}

func TestProducerEncodingFailureWritesNothing(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, "none")

	err := p.PublishBatch(context.Background(), "t", []Message{
		{Key: "1", Value: map[string]int{"ok": 1}},
		{Key: "2", Value: func() {}},
	})
	assert.Error(t, err)
	assert.Empty(t, w.msgs)
}

func TestProducerWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewProducerWithWriter(&fakeWriter{err: boom}, "snappy")
	err := p.Publish(context.Background(), "model.trained", Message{Key: "10", Value: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestNewProducerValidates(t *testing.T) {
	_, err := NewProducer()
	assert.Error(t, err)

	_, err = NewProducer(WithBrokers([]string{"localhost:9092"}), WithDelivery(-1, "brotli"))
	assert.Error(t, err)

	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithSource("epicast"), WithDelivery(1, "lz4"))
	require.NoError(t, err)
	assert.Equal(t, "epicast", p.source)
	assert.Equal(t, "lz4", p.comp)
	require.NoError(t, p.Close())
}

func newTestConsumer(t *testing.T, retryMax int, h MessageHandler) (*Consumer, *fakeReader, *fakeWriter) {
	t.Helper()
	c, err := NewConsumer(nil,
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(retryMax, time.Millisecond, 2*time.Millisecond),
		WithConsumerDLQ("dataset.refreshed.dlq"))
	require.NoError(t, err)
	r := &fakeReader{}
	dlq := &fakeWriter{}
	c.dlq = dlq
	c.RegisterHandler(h)
	c.readers[h.Topic()] = r
	return c, r, dlq
}

func TestConsumerCommitsOnSuccess(t *testing.T) {
	var got string
	h := funcHandler{topic: "dataset.refreshed", fn: func(ctx context.Context, b []byte) error {
		got = string(b) + "|" + TraceID(ctx)
		return nil
	}}
	c, r, dlq := newTestConsumer(t, 2, h)

	c.process(&message{topic: "dataset.refreshed", km: kafka.Message{
		Offset:  7,
		Value:   []byte(`{"disease_codes":["370"]}`),
		Headers: []kafka.Header{{Key: "trace_id", Value: []byte("abc")}},
	}})

	assert.Equal(t, `{"disease_codes":["370"]}|abc`, got)
	assert.Equal(t, []int64{7}, r.committed)
	assert.Empty(t, dlq.msgs)
}

func TestConsumerRetriesThenDeadLetters(t *testing.T) {
	calls := 0
	h := funcHandler{topic: "dataset.refreshed", fn: func(context.Context, []byte) error {
		calls++
		return errors.New("clickhouse down")
	}}
	c, r, dlq := newTestConsumer(t, 2, h)

	c.process(&message{topic: "dataset.refreshed", km: kafka.Message{Offset: 3, Value: []byte("{}")}})

	assert.Equal(t, 3, calls)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "dataset.refreshed.dlq", dlq.msgs[0].Topic)
	assert.Equal(t, []int64{3}, r.committed)
}

func TestConsumerRecoversHandlerPanic(t *testing.T) {
	h := funcHandler{topic: "t", fn: func(context.Context, []byte) error {
		panic("boom")
	}}
	c, _, dlq := newTestConsumer(t, 0, h)

	c.process(&message{topic: "t", km: kafka.Message{Offset: 1}})
	assert.Len(t, dlq.msgs, 1)
}

func TestHookChainStopsOnError(t *testing.T) {
	failing := hookFunc(func(ctx context.Context, data []byte) (context.Context, []byte, error) {
		return ctx, nil, &HookError{Code: "ERR_VALIDATION", Err: errors.New("bad")}
	})
	chain := NewHookChain(TraceHook{}, failing, nil)

	_, data, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, []byte("x"))
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "ERR_VALIDATION", he.Code)
	assert.Equal(t, []byte("x"), data)
}

func TestEventFilterSkipsForeignEvents(t *testing.T) {
	var calls int
	h := funcHandler{topic: "dataset.refreshed", fn: func(context.Context, []byte) error {
		calls++
		return nil
	}}
	c, r, dlq := newTestConsumer(t, 2, h)
	c.WithConsumerHook(NewHookChain(TraceHook{}, EventFilterHook{Events: []string{"dataset_refreshed"}}))

	foreign := kafka.Message{Offset: 7, Headers: []kafka.Header{{Key: HeaderEvent, Value: []byte("schema_changed")}}}
	c.process(&message{topic: "dataset.refreshed", km: foreign})
	assert.Zero(t, calls)
	assert.Empty(t, dlq.msgs)
	assert.Equal(t, []int64{7}, r.committed)

	wanted := kafka.Message{Offset: 8, Headers: []kafka.Header{{Key: HeaderEvent, Value: []byte("dataset_refreshed")}}}
	c.process(&message{topic: "dataset.refreshed", km: wanted})
	c.process(&message{topic: "dataset.refreshed", km: kafka.Message{Offset: 9}})
	assert.Equal(t, 2, calls)
	assert.Equal(t, []int64{7, 8, 9}, r.committed)
}

type hookFunc func(context.Context, []byte) (context.Context, []byte, error)

func (f hookFunc) BeforeHandle(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
	return f(ctx, data)
}

func (hookFunc) AfterHandle(context.Context, string, kafka.Message, error) {}
