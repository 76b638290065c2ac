package fabric

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdev/burrow/pkg/attr"
)

type batchSink struct {
	mu      sync.Mutex
	batches [][]StreamRecord
}

func (s *batchSink) handler(ctx context.Context, records []StreamRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, records)
	return nil
}

func (s *batchSink) records() []StreamRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StreamRecord
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestStreamBatchesWithinWindow(t *testing.T) {
	sink := &batchSink{}
	d := NewStreamDispatcher("orders", ViewNewAndOld, []string{"pk"}, 20*time.Millisecond)
	d.Subscribe(sink.handler)
	d.Start()

	item := attr.Item{"pk": attr.String("o1"), "qty": attr.String("2")}
	d.Emit("e1", StreamInsert, item, nil, time.Now())
	d.Emit("e2", StreamModify, item, item, time.Now())
	d.Stop()

	got := sink.records()
	require.Len(t, got, 2)
	assert.Equal(t, StreamInsert, got[0].EventName)
	assert.Equal(t, StreamModify, got[1].EventName)
	assert.Less(t, got[0].SequenceNumber, got[1].SequenceNumber)
	assert.Equal(t, "orders", got[0].TableName)
}

func TestStreamViewProjection(t *testing.T) {
	newImage := attr.Item{"pk": attr.String("1"), "v": attr.String("new")}
	oldImage := attr.Item{"pk": attr.String("1"), "v": attr.String("old")}

	tests := []struct {
		view    StreamViewType
		wantNew bool
		wantOld bool
	}{
		{view: ViewKeysOnly, wantNew: false, wantOld: false},
		{view: ViewNewImage, wantNew: true, wantOld: false},
		{view: ViewOldImage, wantNew: false, wantOld: true},
		{view: ViewNewAndOld, wantNew: true, wantOld: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.view), func(t *testing.T) {
			sink := &batchSink{}
			d := NewStreamDispatcher("t", tt.view, []string{"pk"}, 10*time.Millisecond)
			d.Subscribe(sink.handler)
			d.Start()
			d.Emit("e", StreamModify, newImage, oldImage, time.Now())
			d.Stop()

			got := sink.records()
			require.Len(t, got, 1)
			assert.True(t, got[0].Keys.Equal(attr.Item{"pk": attr.String("1")}))
			assert.Equal(t, tt.wantNew, got[0].NewImage != nil)
			assert.Equal(t, tt.wantOld, got[0].OldImage != nil)
		})
	}
}

func TestStreamRemoveProjectsKeysFromOldImage(t *testing.T) {
	sink := &batchSink{}
	d := NewStreamDispatcher("t", ViewOldImage, []string{"pk"}, 10*time.Millisecond)
	d.Subscribe(sink.handler)
	d.Start()
	d.Emit("e", StreamRemove, nil, attr.Item{"pk": attr.String("gone")}, time.Now())
	d.Stop()

	got := sink.records()
	require.Len(t, got, 1)
	assert.True(t, got[0].Keys.Equal(attr.Item{"pk": attr.String("gone")}))
}

func TestStreamStopFlushesPending(t *testing.T) {
	sink := &batchSink{}
	// long window: records would sit in the buffer without the stop flush
	d := NewStreamDispatcher("t", ViewKeysOnly, []string{"pk"}, time.Hour)
	d.Subscribe(sink.handler)
	d.Start()
	d.Emit("e", StreamInsert, attr.Item{"pk": attr.String("1")}, nil, time.Now())
	d.Stop()

	assert.Len(t, sink.records(), 1)
}

func TestStreamEmitNeverBlocksWhenFull(t *testing.T) {
	d := NewStreamDispatcher("t", ViewKeysOnly, []string{"pk"}, time.Hour)
	// no Start: the worker never drains, so the buffer fills
	item := attr.Item{"pk": attr.String("1")}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < bufferCap+100; i++ {
			d.Emit("e", StreamInsert, item, nil, time.Now())
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Len(t, d.buffer, bufferCap)
}
