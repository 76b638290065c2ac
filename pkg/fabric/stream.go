package fabric

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/attr"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/metrics"
)

// StreamViewType selects the projection carried in stream records.
type StreamViewType string

const (
	ViewKeysOnly  StreamViewType = "KEYS_ONLY"
	ViewNewImage  StreamViewType = "NEW_IMAGE"
	ViewOldImage  StreamViewType = "OLD_IMAGE"
	ViewNewAndOld StreamViewType = "NEW_AND_OLD_IMAGES"
)

// StreamEventName classifies a table mutation.
type StreamEventName string

const (
	StreamInsert StreamEventName = "INSERT"
	StreamModify StreamEventName = "MODIFY"
	StreamRemove StreamEventName = "REMOVE"
)

// StreamRecord is one change-stream record after projection.
type StreamRecord struct {
	EventID            string
	EventName          StreamEventName
	TableName          string
	Keys               attr.Item
	NewImage           attr.Item // nil unless the view includes it
	OldImage           attr.Item // nil unless the view includes it
	SequenceNumber     int64
	ApproxCreationTime time.Time
}

// StreamHandler consumes one flushed batch.
type StreamHandler func(ctx context.Context, records []StreamRecord) error

const (
	// DefaultWindow is the batching window between flushes.
	DefaultWindow = 100 * time.Millisecond

	// bufferCap bounds the per-table record buffer; producers drop with a
	// warning beyond it rather than block.
	bufferCap = 1024
)

// StreamDispatcher buffers one table's change records and flushes a batch
// to every registered handler each window. Producers never block on
// delivery.
type StreamDispatcher struct {
	table    string
	view     StreamViewType
	keyAttrs []string
	window   time.Duration

	mu       sync.Mutex
	buffer   []StreamRecord
	handlers []StreamHandler
	seq      int64

	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger zerolog.Logger
}

// NewStreamDispatcher creates a dispatcher for one table.
func NewStreamDispatcher(table string, view StreamViewType, keyAttrs []string, window time.Duration) *StreamDispatcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &StreamDispatcher{
		table:    table,
		view:     view,
		keyAttrs: keyAttrs,
		window:   window,
		logger:   log.WithResource("dynamodb-stream", table),
	}
}

// View returns the projection this dispatcher applies.
func (d *StreamDispatcher) View() StreamViewType { return d.view }

// Subscribe registers a handler for flushed batches.
func (d *StreamDispatcher) Subscribe(h StreamHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Start launches the window worker.
func (d *StreamDispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.flush(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop flushes all pending batches, then shuts the worker down.
func (d *StreamDispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	// final drain with a bounded context
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.flush(ctx)
}

// Emit projects a mutation per the view type and enqueues it. Never
// blocks; drops with a warning when the buffer is full.
func (d *StreamDispatcher) Emit(eventID string, name StreamEventName, newImage, oldImage attr.Item, at time.Time) {
	record := StreamRecord{
		EventID:            eventID,
		EventName:          name,
		TableName:          d.table,
		Keys:               projectKeys(d.keyAttrs, newImage, oldImage),
		ApproxCreationTime: at,
	}

	switch d.view {
	case ViewNewImage:
		record.NewImage = newImage
	case ViewOldImage:
		record.OldImage = oldImage
	case ViewNewAndOld:
		record.NewImage = newImage
		record.OldImage = oldImage
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buffer) >= bufferCap {
		metrics.EventsDropped.WithLabelValues("stream").Inc()
		d.logger.Warn().Str("event_id", eventID).Msg("stream buffer full, dropping record")
		return
	}
	d.seq++
	record.SequenceNumber = d.seq
	d.buffer = append(d.buffer, record)
}

func (d *StreamDispatcher) flush(ctx context.Context) {
	d.mu.Lock()
	batch := d.buffer
	d.buffer = nil
	handlers := append([]StreamHandler(nil), d.handlers...)
	d.mu.Unlock()

	if len(batch) == 0 || len(handlers) == 0 {
		return
	}

	metrics.StreamBatchSize.WithLabelValues(d.table).Observe(float64(len(batch)))

	for _, handler := range handlers {
		if err := handler(ctx, batch); err != nil {
			metrics.EventsDispatched.WithLabelValues("stream", "error").Inc()
			d.logger.Warn().
				Err(err).
				Int("records", len(batch)).
				Msg("stream handler failed")
			continue
		}
		metrics.EventsDispatched.WithLabelValues("stream", "ok").Inc()
	}
}

func projectKeys(keyAttrs []string, newImage, oldImage attr.Item) attr.Item {
	source := newImage
	if source == nil {
		source = oldImage
	}
	keys := make(attr.Item, len(keyAttrs))
	for _, name := range keyAttrs {
		if v, ok := source[name]; ok {
			keys[name] = v
		}
	}
	return keys
}
