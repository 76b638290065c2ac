package fabric

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/metrics"
)

// ObjectEvent is one object-store mutation offered to notification
// handlers.
type ObjectEvent struct {
	Bucket    string
	Key       string
	EventType string // e.g. s3:ObjectCreated:Put
	Size      int64
	ETag      string
	Time      time.Time
}

// ObjectHandler consumes one object event. Errors are logged, never
// surfaced to the producer.
type ObjectHandler func(ctx context.Context, event ObjectEvent) error

// NotificationBinding filters events before they reach a handler.
type NotificationBinding struct {
	Bucket    string
	EventGlob string // ObjectCreated:*, ObjectRemoved:*, or an exact type
	Prefix    string
	Suffix    string
	Handler   ObjectHandler
}

// NotificationDispatcher routes object events to registered handlers as
// independent tasks, detached from the producer's call path.
type NotificationDispatcher struct {
	mu       sync.RWMutex
	bindings []NotificationBinding
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger
}

// NewNotificationDispatcher creates a stopped dispatcher.
func NewNotificationDispatcher() *NotificationDispatcher {
	return &NotificationDispatcher{logger: log.WithComponent("notification-dispatcher")}
}

// Start arms the dispatcher.
func (d *NotificationDispatcher) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
}

// Stop cancels in-flight handler tasks and waits for them to drain.
func (d *NotificationDispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Register adds a binding.
func (d *NotificationDispatcher) Register(b NotificationBinding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings = append(d.bindings, b)
}

// Reset drops all bindings.
func (d *NotificationDispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings = nil
}

// Dispatch schedules every matching handler for the event. It never
// blocks on handler completion.
func (d *NotificationDispatcher) Dispatch(event ObjectEvent) {
	if d.ctx == nil {
		return
	}

	d.mu.RLock()
	var matched []ObjectHandler
	for _, b := range d.bindings {
		if b.Matches(event) {
			matched = append(matched, b.Handler)
		}
	}
	d.mu.RUnlock()

	for _, handler := range matched {
		h := handler
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := h(d.ctx, event); err != nil {
				metrics.EventsDispatched.WithLabelValues("notification", "error").Inc()
				d.logger.Warn().
					Err(err).
					Str("bucket", event.Bucket).
					Str("key", event.Key).
					Str("event", event.EventType).
					Msg("notification handler failed")
				return
			}
			metrics.EventsDispatched.WithLabelValues("notification", "ok").Inc()
		}()
	}
}

// Matches applies the event-type glob and the key prefix/suffix filters.
func (b NotificationBinding) Matches(event ObjectEvent) bool {
	if b.Bucket != event.Bucket {
		return false
	}
	if !globMatches(b.EventGlob, event.EventType) {
		return false
	}
	if b.Prefix != "" && !strings.HasPrefix(event.Key, b.Prefix) {
		return false
	}
	if b.Suffix != "" && !strings.HasSuffix(event.Key, b.Suffix) {
		return false
	}
	return true
}

// globMatches compares event types, where a trailing * after the colon
// matches any sub-type: ObjectCreated:* covers ObjectCreated:Put and
// ObjectCreated:Copy.
func globMatches(glob, eventType string) bool {
	// tolerate the optional s3: prefix on either side
	glob = strings.TrimPrefix(glob, "s3:")
	eventType = strings.TrimPrefix(eventType, "s3:")

	if glob == eventType || glob == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(glob, ":*"); ok {
		return strings.HasPrefix(eventType, prefix+":")
	}
	return false
}
