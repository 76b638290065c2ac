package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/provider"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

func TestRuleMatching(t *testing.T) {
	rule := &Rule{
		Name: "orders",
		Pattern: map[string][]string{
			"source":      {"shop.orders"},
			"detail-type": {"OrderPlaced", "OrderCancelled"},
		},
	}

	ev := NewEvent("shop.orders", "OrderPlaced", json.RawMessage(`{}`))
	assert.True(t, rule.Matches(ev))

	assert.False(t, rule.Matches(NewEvent("shop.refunds", "OrderPlaced", nil)))
	assert.False(t, rule.Matches(NewEvent("shop.orders", "OrderShipped", nil)))

	scheduled := &Rule{Name: "tick", Schedule: "rate(1 minute)"}
	assert.False(t, scheduled.Matches(ev), "scheduled rules never match puts")

	unknownField := &Rule{Pattern: map[string][]string{"color": {"red"}}}
	assert.False(t, unknownField.Matches(ev))
}

func TestCronSpecTranslation(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "rate(5 minutes)", want: "@every 5m0s"},
		{in: "rate(1 hour)", want: "@every 1h0m0s"},
		{in: "rate(30 seconds)", want: "@every 30s"},
		{in: "rate(2 days)", want: "@every 48h0m0s"},
		{in: "cron(0 12 * * ?)", want: "0 12 * * *"},
		{in: "cron(0 12 * * ? 2026)", want: "0 12 * * *"},
		{in: "rate(minutes)", wantErr: true},
		{in: "rate(0 minutes)", wantErr: true},
		{in: "rate(5 lightyears)", wantErr: true},
		{in: "cron(1 2 3)", wantErr: true},
		{in: "every tuesday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cronSpec(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type captureInvoker struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *captureInvoker) InvokeFunction(ctx context.Context, fnRef string, payload []byte) (*provider.InvokeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	return &provider.InvokeResult{Payload: []byte("{}")}, nil
}

type captureSender struct {
	mu     sync.Mutex
	bodies []string
}

func (c *captureSender) SendToQueue(ctx context.Context, queue, body string, attrs map[string]string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
	return "id", nil
}

func TestPutEventsRoutesToTargets(t *testing.T) {
	inv := &captureInvoker{}
	snd := &captureSender{}

	p := NewProvider([]config.BusDef{{
		Name: "main",
		Rules: []config.RuleDef{
			{
				Name:    "orders-to-fn",
				Pattern: map[string][]string{"source": {"shop.orders"}},
				Targets: []config.RuleTargetDef{{Function: "on-order"}, {Queue: "orders-q"}},
			},
			{
				Name:    "refunds-only",
				Pattern: map[string][]string{"source": {"shop.refunds"}},
				Targets: []config.RuleTargetDef{{Queue: "refunds-q"}},
			},
		},
	}}, provider.NewRegistry())

	require.NoError(t, p.Start(context.Background()))
	p.invoker = inv
	p.sender = snd

	ids, err := p.PutEvents(context.Background(), "main", []Event{
		NewEvent("shop.orders", "OrderPlaced", json.RawMessage(`{"id":1}`)),
	})
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	require.Len(t, inv.payloads, 1)
	var evt events.CloudWatchEvent
	require.NoError(t, json.Unmarshal(inv.payloads[0], &evt))
	assert.Equal(t, "shop.orders", evt.Source)
	assert.Equal(t, "OrderPlaced", evt.DetailType)
	assert.JSONEq(t, `{"id":1}`, string(evt.Detail))

	require.Len(t, snd.bodies, 1, "only the matching rule's queue target fires")
	var got Event
	require.NoError(t, json.Unmarshal([]byte(snd.bodies[0]), &got))
	assert.Equal(t, "shop.orders", got.Source)
}

func TestPutEventsUnknownBus(t *testing.T) {
	p := NewProvider(nil, provider.NewRegistry())
	require.NoError(t, p.Start(context.Background()))
	_, err := p.PutEvents(context.Background(), "ghost", []Event{NewEvent("s", "d", nil)})
	assert.ErrorIs(t, err, ErrBusNotFound)
}

func TestScheduledRuleFires(t *testing.T) {
	snd := &captureSender{}
	p := NewProvider([]config.BusDef{{
		Name: "main",
		Rules: []config.RuleDef{{
			Name:     "tick",
			Schedule: "rate(1 second)",
			Targets:  []config.RuleTargetDef{{Queue: "tick-q"}},
		}},
	}}, provider.NewRegistry())

	require.NoError(t, p.Start(context.Background()))
	p.sender = snd
	p.cron.Start()

	require.Eventually(t, func() bool {
		snd.mu.Lock()
		defer snd.mu.Unlock()
		return len(snd.bodies) >= 1
	}, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	snd.mu.Lock()
	defer snd.mu.Unlock()
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(snd.bodies[0]), &ev))
	assert.Equal(t, "burrow.scheduler", ev.Source)
	assert.Equal(t, "Scheduled Event", ev.DetailType)
}

func TestInvalidScheduleFailsStart(t *testing.T) {
	p := NewProvider([]config.BusDef{{
		Name: "main",
		Rules: []config.RuleDef{{
			Name:     "bad",
			Schedule: "whenever",
			Targets:  []config.RuleTargetDef{{Queue: "q"}},
		}},
	}}, provider.NewRegistry())
	assert.Error(t, p.Start(context.Background()))
}
