package fabric

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/burrowdev/burrow/pkg/log"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

func TestBindingMatches(t *testing.T) {
	tests := []struct {
		name    string
		binding NotificationBinding
		event   ObjectEvent
		want    bool
	}{
		{
			name:    "exact type",
			binding: NotificationBinding{Bucket: "b", EventGlob: "s3:ObjectCreated:Put"},
			event:   ObjectEvent{Bucket: "b", Key: "k", EventType: "s3:ObjectCreated:Put"},
			want:    true,
		},
		{
			name:    "glob covers subtypes",
			binding: NotificationBinding{Bucket: "b", EventGlob: "s3:ObjectCreated:*"},
			event:   ObjectEvent{Bucket: "b", Key: "k", EventType: "s3:ObjectCreated:Copy"},
			want:    true,
		},
		{
			name:    "glob does not cross categories",
			binding: NotificationBinding{Bucket: "b", EventGlob: "s3:ObjectCreated:*"},
			event:   ObjectEvent{Bucket: "b", Key: "k", EventType: "s3:ObjectRemoved:Delete"},
			want:    false,
		},
		{
			name:    "wrong bucket",
			binding: NotificationBinding{Bucket: "other", EventGlob: "s3:ObjectCreated:*"},
			event:   ObjectEvent{Bucket: "b", Key: "k", EventType: "s3:ObjectCreated:Put"},
			want:    false,
		},
		{
			name:    "prefix and suffix",
			binding: NotificationBinding{Bucket: "b", EventGlob: "s3:ObjectCreated:*", Prefix: "uploads/", Suffix: ".jpg"},
			event:   ObjectEvent{Bucket: "b", Key: "uploads/cat.jpg", EventType: "s3:ObjectCreated:Put"},
			want:    true,
		},
		{
			name:    "suffix miss",
			binding: NotificationBinding{Bucket: "b", EventGlob: "s3:ObjectCreated:*", Suffix: ".jpg"},
			event:   ObjectEvent{Bucket: "b", Key: "uploads/cat.png", EventType: "s3:ObjectCreated:Put"},
			want:    false,
		},
		{
			name:    "bare glob without service prefix",
			binding: NotificationBinding{Bucket: "b", EventGlob: "ObjectRemoved:*"},
			event:   ObjectEvent{Bucket: "b", Key: "k", EventType: "s3:ObjectRemoved:Delete"},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.binding.Matches(tt.event))
		})
	}
}

func TestDispatchFansOutWithoutBlocking(t *testing.T) {
	d := NewNotificationDispatcher()
	d.Start()
	defer d.Stop()

	var mu sync.Mutex
	var got []string
	release := make(chan struct{})

	handler := func(tag string) ObjectHandler {
		return func(ctx context.Context, ev ObjectEvent) error {
			<-release
			mu.Lock()
			got = append(got, tag+":"+ev.Key)
			mu.Unlock()
			return nil
		}
	}

	d.Register(NotificationBinding{Bucket: "b", EventGlob: "ObjectCreated:*", Handler: handler("h1")})
	d.Register(NotificationBinding{Bucket: "b", EventGlob: "ObjectCreated:Put", Handler: handler("h2")})
	d.Register(NotificationBinding{Bucket: "b", EventGlob: "ObjectRemoved:*", Handler: handler("h3")})

	start := time.Now()
	d.Dispatch(ObjectEvent{Bucket: "b", Key: "k", EventType: "s3:ObjectCreated:Put"})
	assert.Less(t, time.Since(start), 50*time.Millisecond, "producer must not wait on handlers")

	close(release)
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"h1:k", "h2:k"}, got)
}

func TestDispatchHandlerErrorIsSwallowed(t *testing.T) {
	d := NewNotificationDispatcher()
	d.Start()

	d.Register(NotificationBinding{
		Bucket:    "b",
		EventGlob: "*",
		Handler: func(ctx context.Context, ev ObjectEvent) error {
			return errors.New("downstream broken")
		},
	})

	// must not panic or propagate
	d.Dispatch(ObjectEvent{Bucket: "b", Key: "k", EventType: "s3:ObjectCreated:Put"})
	d.Stop()
}

func TestDispatchBeforeStartIsNoop(t *testing.T) {
	d := NewNotificationDispatcher()
	called := false
	d.Register(NotificationBinding{
		Bucket:    "b",
		EventGlob: "*",
		Handler: func(ctx context.Context, ev ObjectEvent) error {
			called = true
			return nil
		},
	})
	d.Dispatch(ObjectEvent{Bucket: "b", Key: "k", EventType: "s3:ObjectCreated:Put"})
	assert.False(t, called)
}
