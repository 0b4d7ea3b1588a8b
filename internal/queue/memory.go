package queue

import (
	"context"
	"hash/fnv"
	"log"
	"sync"

	"telemetry-ingest-plane/internal/event/domain"
)

const (
	defaultMemoryPartitions = 16
	defaultMemoryRetention  = 4096
)

type memEntry struct {
	key   string
	value []byte
}

type memPartition struct {
	base    int64 // offset of entries[0]
	entries []memEntry
}

// MemoryQueue is an in-process Queue for tests and single-process deployments.
// It keeps the same shape as the Kafka queue: per-type logs, key-hash
// partitioning, consumer-group offsets, bounded retention with logged
// oldest-first eviction.
//
// A group's partitions are owned by the first open consumer; later consumers
// in the same group idle until the owner closes. That keeps ownership disjoint
// without a rebalancing protocol.
type MemoryQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	partitions int
	retention  int

	logs      map[domain.TelemetryType][]*memPartition
	committed map[string][]int64 // group|type -> per-partition committed offset
	owners    map[string]*memoryConsumer
	closed    bool
}

// NewMemoryQueue returns an empty in-memory queue with default partition count
// and retention.
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{
		partitions: defaultMemoryPartitions,
		retention:  defaultMemoryRetention,
		logs:       make(map[domain.TelemetryType][]*memPartition),
		committed:  make(map[string][]int64),
		owners:     make(map[string]*memoryConsumer),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *MemoryQueue) partitionsFor(typ domain.TelemetryType) []*memPartition {
	parts, ok := q.logs[typ]
	if !ok {
		parts = make([]*memPartition, q.partitions)
		for i := range parts {
			parts[i] = &memPartition{}
		}
		q.logs[typ] = parts
	}
	return parts
}

// Publish appends value to the partition selected by hashing key. When a
// partition exceeds retention, the oldest entry is evicted and the loss is
// logged: telemetry is lossy under extreme load, but never silently.
func (q *MemoryQueue) Publish(ctx context.Context, typ domain.TelemetryType, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	parts := q.partitionsFor(typ)
	idx := int(hash32(key)) % len(parts)
	p := parts[idx]
	p.entries = append(p.entries, memEntry{key: key, value: append([]byte(nil), value...)})
	if len(p.entries) > q.retention {
		evicted := len(p.entries) - q.retention
		p.entries = p.entries[evicted:]
		p.base += int64(evicted)
		log.Printf("queue: data loss on %s partition %d: evicted %d oldest event(s) beyond retention",
			typ, idx, evicted)
	}
	q.cond.Broadcast()
	return nil
}

// Close stops the queue; blocked consumers return ErrClosed.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	return nil
}

// NewConsumer opens a consumer for typ in group. Implements ConsumerFactory.
func (q *MemoryQueue) NewConsumer(group string, typ domain.TelemetryType) (Consumer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	gk := group + "|" + string(typ)
	if _, ok := q.committed[gk]; !ok {
		q.committed[gk] = make([]int64, q.partitions)
	}

	c := &memoryConsumer{q: q, groupKey: gk, typ: typ, positions: make([]int64, q.partitions)}
	for i, committed := range q.committed[gk] {
		c.positions[i] = committed
	}
	if _, owned := q.owners[gk]; !owned {
		q.owners[gk] = c
		c.owner = true
	}
	return c, nil
}

type memoryConsumer struct {
	q         *MemoryQueue
	groupKey  string
	typ       domain.TelemetryType
	positions []int64
	cursor    int
	owner     bool
	closed    bool
}

// Fetch returns the next unread message across this consumer's partitions,
// blocking until one is available or ctx is done. Non-owning group members
// block until they inherit ownership.
func (c *memoryConsumer) Fetch(ctx context.Context) (Message, error) {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()

	for {
		if c.closed || c.q.closed {
			return Message{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}

		if !c.owner {
			if _, owned := c.q.owners[c.groupKey]; !owned {
				c.q.owners[c.groupKey] = c
				c.owner = true
				copy(c.positions, c.q.committed[c.groupKey])
			}
		}

		if c.owner {
			if msg, ok := c.nextLocked(); ok {
				return msg, nil
			}
		}

		stop := context.AfterFunc(ctx, c.q.cond.Broadcast)
		c.q.cond.Wait()
		stop()
	}
}

// nextLocked scans partitions round-robin from the cursor. Caller holds q.mu.
func (c *memoryConsumer) nextLocked() (Message, bool) {
	parts := c.q.partitionsFor(c.typ)
	for i := 0; i < len(parts); i++ {
		idx := (c.cursor + i) % len(parts)
		p := parts[idx]
		pos := c.positions[idx]
		if pos < p.base {
			// Eviction already logged at publish time; resume at the oldest retained entry.
			pos = p.base
			c.positions[idx] = pos
		}
		if pos < p.base+int64(len(p.entries)) {
			entry := p.entries[pos-p.base]
			c.positions[idx] = pos + 1
			c.cursor = (idx + 1) % len(parts)
			return Message{
				Type:      c.typ,
				Key:       entry.key,
				Value:     entry.value,
				Partition: idx,
				Offset:    pos,
			}, true
		}
	}
	return Message{}, false
}

// Commit advances the group's committed offsets past the given messages.
func (c *memoryConsumer) Commit(ctx context.Context, msgs ...Message) error {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	committed := c.q.committed[c.groupKey]
	for _, m := range msgs {
		if m.Partition < 0 || m.Partition >= len(committed) {
			continue
		}
		if m.Offset+1 > committed[m.Partition] {
			committed[m.Partition] = m.Offset + 1
		}
	}
	return nil
}

// Close releases group ownership; uncommitted messages are redelivered to the
// next owner (at-least-once).
func (c *memoryConsumer) Close() error {
	c.q.mu.Lock()
	defer c.q.mu.Unlock()
	c.closed = true
	if c.q.owners[c.groupKey] == c {
		delete(c.q.owners, c.groupKey)
	}
	c.q.cond.Broadcast()
	return nil
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
