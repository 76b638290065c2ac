package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/provider"
)

// Provider hosts every modelled queue and implements the cross-provider
// send capability used by pub/sub and the event bus.
type Provider struct {
	defs   []config.QueueDef
	reg    *provider.Registry
	logger zerolog.Logger

	mu     sync.RWMutex
	queues map[string]*Queue
}

// NewProvider builds the provider; queues are created at Start.
func NewProvider(defs []config.QueueDef, reg *provider.Registry) *Provider {
	return &Provider{
		defs:   defs,
		reg:    reg,
		logger: log.WithService(provider.ServiceQueue),
		queues: map[string]*Queue{},
	}
}

func (p *Provider) Service() string { return provider.ServiceQueue }

// Start creates the modelled queues, dead-letter targets first so
// redrive wiring can reference them.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// first pass: every queue without redrive
	for _, def := range p.defs {
		if def.Redrive == nil {
			p.queues[def.Name] = New(def.Name, optionsFromDef(def, nil))
		}
	}
	// second pass: redrive queues pointing at the first-pass targets
	for _, def := range p.defs {
		if def.Redrive == nil {
			continue
		}
		dlq, ok := p.queues[def.Redrive.DeadLetter]
		if !ok {
			return fmt.Errorf("queue %s: dead-letter queue %s is not modelled", def.Name, def.Redrive.DeadLetter)
		}
		p.queues[def.Name] = New(def.Name, optionsFromDef(def, dlq))
	}

	for name := range p.queues {
		p.reg.PutResource(
			provider.ResourceKey{Service: p.Service(), Name: name},
			provider.Attributes{ID: provider.ARN(p.Service(), name)},
		)
	}
	p.logger.Info().Int("queues", len(p.queues)).Msg("queue provider ready")
	return nil
}

func optionsFromDef(def config.QueueDef, dlq *Queue) Options {
	opts := Options{
		FIFO:              def.FIFO,
		VisibilityTimeout: time.Duration(def.VisibilityTimeout) * time.Second,
		DelaySeconds:      time.Duration(def.DelaySeconds) * time.Second,
	}
	if def.Redrive != nil {
		opts.DeadLetter = dlq
		opts.MaxReceiveCount = def.Redrive.MaxReceiveCount
	}
	return opts
}

// Stop is immediate; queues hold no background workers.
func (p *Provider) Stop(ctx context.Context) error { return nil }

// Healthy always passes once started.
func (p *Provider) Healthy(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.queues == nil {
		return fmt.Errorf("queue provider not started")
	}
	return nil
}

// Reset purges every queue.
func (p *Provider) Reset(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, q := range p.queues {
		q.Purge()
	}
	return nil
}

// Queue looks a queue up by name.
func (p *Provider) Queue(name string) (*Queue, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	q, ok := p.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return q, nil
}

// QueueNames lists queue names in sorted order.
func (p *Provider) QueueNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.queues))
	for name := range p.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SendToQueue implements provider.QueueSender for cross-provider
// delivery (topic fan-out, event-bus targets).
func (p *Provider) SendToQueue(ctx context.Context, queue, body string, attrs map[string]string) (string, error) {
	q, err := p.Queue(queue)
	if err != nil {
		return "", err
	}
	in := SendInput{Attrs: attrs}
	if q.IsFIFO() {
		in.GroupID = "default"
	}
	return q.Send(body, in)
}
