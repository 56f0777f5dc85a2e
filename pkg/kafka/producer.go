package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Header names set on every produced record.
const (
	HeaderEvent       = "event"
	HeaderSource      = "source"
	HeaderContentType = "content-type"
)

// Writer is the subset of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is one record to publish. Key selects the partition, so records
// sharing a key keep their order.
type Message struct {
	Key     string
	Event   string
	Value   interface{}
	Headers map[string]string
}

// Producer publishes JSON events through a kafka-go writer.
type Producer struct {
	writer Writer
	comp   string
	source string
}

// NewProducer creates a hash-balanced producer.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := DefaultProducerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: brokers are required")
	}
	codec, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  codec,
		MaxAttempts:  cfg.MaxAttempts,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: cfg.BatchTimeout,
	}
	p := NewProducerWithWriter(writer, cfg.Compression)
	p.source = cfg.Source
	return p, nil
}

// NewProducerWithWriter builds a producer around an existing writer.
func NewProducerWithWriter(w Writer, compression string) *Producer {
	initProducerMetricsOnce()
	return &Producer{writer: w, comp: compression}
}

// Publish sends a single message.
func (p *Producer) Publish(ctx context.Context, topic string, m Message) error {
	return p.PublishBatch(ctx, topic, []Message{m})
}

// PublishBatch encodes and writes messages in one call. An encoding failure
// aborts the whole batch before anything is written.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	start := time.Now()
	records := make([]kafka.Message, len(messages))
	var size int64
	for i, m := range messages {
		rec, err := p.record(topic, m, start)
		if err != nil {
			return fmt.Errorf("kafka publish %s: %w", topic, err)
		}
		records[i] = rec
		size += int64(len(rec.Value))
	}

	err := p.writer.WriteMessages(ctx, records...)
	observeProducerMetrics(topic, p.comp, size, len(records), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) record(topic string, m Message, at time.Time) (kafka.Message, error) {
	value, contentType, err := encodeValue(m.Value)
	if err != nil {
		return kafka.Message{}, err
	}
	rec := kafka.Message{Topic: topic, Value: value, Time: at}
	if m.Key != "" {
		rec.Key = []byte(m.Key)
	}

	header := func(k, v string) {
		if v != "" {
			rec.Headers = append(rec.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
	}
	header(HeaderEvent, m.Event)
	header(HeaderSource, p.source)
	header(HeaderContentType, contentType)
	for k, v := range m.Headers {
		header(k, v)
	}
	return rec, nil
}

// Close closes the producer.
func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

func encodeValue(value interface{}) ([]byte, string, error) {
	switch val := value.(type) {
	case []byte:
		return val, "application/octet-stream", nil
	case string:
		return []byte(val), "text/plain", nil
	default:
		v, err := json.Marshal(value)
		if err != nil {
			return nil, "", fmt.Errorf("encode value: %w", err)
		}
		return v, "application/json", nil
	}
}

func parseCompression(s string) (kafka.Compression, error) {
	switch s {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("kafka producer: unknown compression %q", s)
	}
}
