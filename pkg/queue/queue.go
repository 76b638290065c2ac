package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/log"
)

// ErrQueueNotFound reports an operation against an unknown queue.
var ErrQueueNotFound = errors.New("queue not found")

// Message is one queue message as seen by a receiver.
type Message struct {
	ID            string
	Body          string
	Attributes    map[string]string
	ReceiptHandle string
	ReceiveCount  int
	GroupID       string // FIFO only
	SentAt        time.Time
}

// Options configures one queue.
type Options struct {
	FIFO              bool
	VisibilityTimeout time.Duration // default 30s
	DelaySeconds      time.Duration
	// Redrive moves messages to the dead-letter queue once their receive
	// count exceeds MaxReceiveCount.
	DeadLetter      *Queue
	MaxReceiveCount int
}

// message is the internal record. A message is visible, in-flight, or
// gone; visibility expiry returns it to visible.
type message struct {
	id           string
	body         string
	attributes   map[string]string
	groupID      string
	dedupID      string
	sentAt       time.Time
	seq          int64
	visibleAt    time.Time
	receiveCount int
	handle       string // current receipt handle while in-flight
}

// Queue is one standard or FIFO queue with visibility timeouts and
// long-poll receive.
type Queue struct {
	name string
	opts Options

	mu       sync.Mutex
	messages map[string]*message // by message id
	handles  map[string]*message // by live receipt handle
	dedup    map[string]time.Time
	seq      int64
	arrival  chan struct{} // closed and replaced on each send

	logger zerolog.Logger
}

const (
	defaultVisibility = 30 * time.Second
	dedupWindow       = 5 * time.Minute
	pollInterval      = 50 * time.Millisecond
)

// New creates a queue.
func New(name string, opts Options) *Queue {
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = defaultVisibility
	}
	return &Queue{
		name:     name,
		opts:     opts,
		messages: map[string]*message{},
		handles:  map[string]*message{},
		dedup:    map[string]time.Time{},
		arrival:  make(chan struct{}),
		logger:   log.WithResource("sqs", name),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// IsFIFO reports whether the queue preserves per-group order.
func (q *Queue) IsFIFO() bool { return q.opts.FIFO }

// SendInput carries the optional send parameters.
type SendInput struct {
	Delay   time.Duration // overrides the queue default when > 0
	Attrs   map[string]string
	GroupID string // FIFO
	DedupID string // FIFO
}

// Send enqueues one message and returns its id. FIFO dedup ids suppress
// duplicates inside the dedup window, returning the original id.
func (q *Queue) Send(body string, in SendInput) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.opts.FIFO && in.GroupID == "" {
		return "", fmt.Errorf("queue %s: FIFO sends need a message group id", q.name)
	}

	if q.opts.FIFO && in.DedupID != "" {
		if sentAt, ok := q.dedup[in.DedupID]; ok && time.Since(sentAt) < dedupWindow {
			for _, m := range q.messages {
				if m.dedupID == in.DedupID {
					return m.id, nil
				}
			}
			// original already consumed; still suppressed
			return uuid.NewString(), nil
		}
		q.dedup[in.DedupID] = time.Now()
	}

	delay := in.Delay
	if delay <= 0 {
		delay = q.opts.DelaySeconds
	}

	q.seq++
	m := &message{
		id:         uuid.NewString(),
		body:       body,
		attributes: in.Attrs,
		groupID:    in.GroupID,
		dedupID:    in.DedupID,
		sentAt:     time.Now(),
		seq:        q.seq,
		visibleAt:  time.Now().Add(delay),
	}
	q.messages[m.id] = m

	// wake long-poll receivers
	close(q.arrival)
	q.arrival = make(chan struct{})
	return m.id, nil
}

// Receive returns up to max visible messages, blocking up to wait for
// the first one. Returned messages are hidden for the queue's
// visibility timeout (or the override when > 0).
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration, visibilityOverride time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}
	deadline := time.Now().Add(wait)

	for {
		msgs, arrival := q.tryReceive(max, visibilityOverride)
		if len(msgs) > 0 {
			return msgs, nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-arrival:
		case <-time.After(pollInterval):
			// re-check for visibility expirations
		}
	}
}

// tryReceive is one non-blocking pass under the lock.
func (q *Queue) tryReceive(max int, visibilityOverride time.Duration) ([]Message, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	visibility := q.opts.VisibilityTimeout
	if visibilityOverride > 0 {
		visibility = visibilityOverride
	}

	candidates := q.visibleLocked(now)
	var out []Message
	for _, m := range candidates {
		if len(out) == max {
			break
		}
		m.receiveCount++

		if q.opts.DeadLetter != nil && m.receiveCount > q.opts.MaxReceiveCount {
			q.redriveLocked(m)
			continue
		}

		if m.handle != "" {
			delete(q.handles, m.handle)
		}
		m.handle = uuid.NewString()
		m.visibleAt = now.Add(visibility)
		q.handles[m.handle] = m

		out = append(out, Message{
			ID:            m.id,
			Body:          m.body,
			Attributes:    m.attributes,
			ReceiptHandle: m.handle,
			ReceiveCount:  m.receiveCount,
			GroupID:       m.groupID,
			SentAt:        m.sentAt,
		})
	}
	return out, q.arrival
}

// visibleLocked lists deliverable messages in send order. For FIFO
// queues a group with an in-flight message yields nothing until that
// message is deleted or returns to visible.
func (q *Queue) visibleLocked(now time.Time) []*message {
	blocked := map[string]bool{}
	if q.opts.FIFO {
		for _, m := range q.messages {
			if m.visibleAt.After(now) && m.handle != "" {
				blocked[m.groupID] = true
			}
		}
	}

	var visible []*message
	for _, m := range q.messages {
		if m.visibleAt.After(now) {
			continue
		}
		if q.opts.FIFO && blocked[m.groupID] {
			continue
		}
		visible = append(visible, m)
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].seq < visible[j].seq })

	if q.opts.FIFO {
		// only the head of each group is deliverable
		seen := map[string]bool{}
		var heads []*message
		for _, m := range visible {
			if seen[m.groupID] {
				continue
			}
			seen[m.groupID] = true
			heads = append(heads, m)
		}
		return heads
	}
	return visible
}

// redriveLocked moves one poisoned message to the dead-letter queue.
func (q *Queue) redriveLocked(m *message) {
	delete(q.messages, m.id)
	if m.handle != "" {
		delete(q.handles, m.handle)
	}
	q.logger.Warn().
		Str("message_id", m.id).
		Int("receive_count", m.receiveCount).
		Str("dead_letter", q.opts.DeadLetter.Name()).
		Msg("message exceeded receive count, moving to dead-letter queue")

	_, err := q.opts.DeadLetter.Send(m.body, SendInput{Attrs: m.attributes, GroupID: m.groupID})
	if err != nil {
		q.logger.Error().Err(err).Str("message_id", m.id).Msg("dead-letter send failed")
	}
}

// Delete removes a received message by its receipt handle. Expired or
// already-deleted handles are a no-op.
func (q *Queue) Delete(receiptHandle string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.handles[receiptHandle]
	if !ok {
		return
	}
	delete(q.handles, receiptHandle)
	delete(q.messages, m.id)
}

// ChangeVisibility re-times an in-flight message. Zero makes it
// immediately visible again.
func (q *Queue) ChangeVisibility(receiptHandle string, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.handles[receiptHandle]
	if !ok {
		return fmt.Errorf("queue %s: unknown receipt handle", q.name)
	}
	m.visibleAt = time.Now().Add(d)
	if d <= 0 {
		delete(q.handles, receiptHandle)
		m.handle = ""
		close(q.arrival)
		q.arrival = make(chan struct{})
	}
	return nil
}

// Purge drops every message.
func (q *Queue) Purge() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = map[string]*message{}
	q.handles = map[string]*message{}
	q.dedup = map[string]time.Time{}
}

// Depth counts messages currently held, visible or in-flight.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
