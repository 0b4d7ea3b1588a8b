package queue

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"telemetry-ingest-plane/internal/event/domain"
)

// KafkaPublisher writes envelopes to one Kafka topic per telemetry type
// (<prefix>.<type>). The Hash balancer keyed by organization ID pins each org
// to one partition, which is what preserves per-org ordering.
type KafkaPublisher struct {
	writers map[domain.TelemetryType]*kafka.Writer
}

// NewKafkaPublisher creates writers for every telemetry type. brokers must be
// non-empty. Call Close when shutting down.
func NewKafkaPublisher(brokers []string, topicPrefix string) *KafkaPublisher {
	writers := make(map[domain.TelemetryType]*kafka.Writer, len(domain.Types))
	for _, typ := range domain.Types {
		writers[typ] = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        Topic(topicPrefix, typ),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		}
	}
	return &KafkaPublisher{writers: writers}
}

// Topic returns the Kafka topic for a telemetry type (e.g. tip.logs).
func Topic(prefix string, typ domain.TelemetryType) string {
	if prefix == "" {
		prefix = "tip"
	}
	return prefix + "." + string(typ)
}

// Publish writes value to the topic for typ, keyed by the partition key.
// The caller's context bounds the blocking time under backpressure.
func (p *KafkaPublisher) Publish(ctx context.Context, typ domain.TelemetryType, key string, value []byte) error {
	w, ok := p.writers[typ]
	if !ok {
		return ErrClosed
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

// Close closes all writers. Safe to call multiple times.
func (p *KafkaPublisher) Close() error {
	var firstErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// KafkaConsumerFactory opens consumer-group readers against the same brokers
// and topic prefix the publisher writes to.
type KafkaConsumerFactory struct {
	Brokers     []string
	TopicPrefix string
}

// NewConsumer opens a reader for typ in the given consumer group.
func (f *KafkaConsumerFactory) NewConsumer(group string, typ domain.TelemetryType) (Consumer, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  f.Brokers,
		Topic:    Topic(f.TopicPrefix, typ),
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})
	return &kafkaConsumer{reader: reader, typ: typ, lastOffsets: make(map[int]int64)}, nil
}

type kafkaConsumer struct {
	reader *kafka.Reader
	typ    domain.TelemetryType

	mu          sync.Mutex
	lastOffsets map[int]int64 // partition -> last fetched offset
}

// Fetch blocks until a message arrives or ctx is done. Messages must be
// committed explicitly; the reader redelivers uncommitted messages after a
// rebalance or restart.
func (c *kafkaConsumer) Fetch(ctx context.Context) (Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	c.observeOffset(m.Partition, m.Offset)
	return Message{
		Type:      c.typ,
		Key:       string(m.Key),
		Value:     m.Value,
		Partition: m.Partition,
		Offset:    m.Offset,
	}, nil
}

// observeOffset logs an offset jump larger than one as a data-loss signal:
// broker-side retention evicted records this group never consumed.
func (c *kafkaConsumer) observeOffset(partition int, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastOffsets[partition]; ok && offset > last+1 {
		log.Printf("queue: data loss on %s partition %d: offsets %d..%d evicted before consumption",
			c.reader.Config().Topic, partition, last+1, offset-1)
	}
	c.lastOffsets[partition] = offset
}

// Commit acknowledges messages back to the consumer group.
func (c *kafkaConsumer) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	kafkaMsgs := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		kafkaMsgs[i] = kafka.Message{
			Topic:     c.reader.Config().Topic,
			Partition: m.Partition,
			Offset:    m.Offset,
		}
	}
	return c.reader.CommitMessages(ctx, kafkaMsgs...)
}

func (c *kafkaConsumer) Close() error {
	return c.reader.Close()
}
