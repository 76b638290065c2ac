package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/metrics"
	"github.com/burrowdev/burrow/pkg/provider"
)

// Provider hosts topics and fans published messages out to matching
// subscribers, each on its own task.
type Provider struct {
	defs   []config.TopicDef
	reg    *provider.Registry
	logger zerolog.Logger

	mu     sync.RWMutex
	topics map[string]*Topic

	invoker provider.Invoker
	sender  provider.QueueSender
	wg      sync.WaitGroup
}

// NewProvider builds the provider; topics are created at Start and
// delivery targets bound at PostWire.
func NewProvider(defs []config.TopicDef, reg *provider.Registry) *Provider {
	return &Provider{
		defs:   defs,
		reg:    reg,
		logger: log.WithService(provider.ServicePubSub),
		topics: map[string]*Topic{},
	}
}

func (p *Provider) Service() string { return provider.ServicePubSub }

// Start creates the modelled topics and their subscriptions.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, def := range p.defs {
		topic := newTopic(def.Name)
		for _, sub := range def.Subscriptions {
			if _, err := topic.Subscribe(sub.Protocol, sub.Endpoint, sub.RawDelivery, sub.FilterPolicy); err != nil {
				return fmt.Errorf("topic %s: %w", def.Name, err)
			}
		}
		p.topics[def.Name] = topic
		p.reg.PutResource(
			provider.ResourceKey{Service: p.Service(), Name: def.Name},
			provider.Attributes{ID: topic.ARN},
		)
	}
	p.logger.Info().Int("topics", len(p.topics)).Msg("pubsub provider ready")
	return nil
}

// PostWire binds the compute and queue delivery capabilities.
func (p *Provider) PostWire(reg *provider.Registry) error {
	if inv, ok := reg.Provider(provider.ServiceCompute).(provider.Invoker); ok {
		p.invoker = inv
	}
	if snd, ok := reg.Provider(provider.ServiceQueue).(provider.QueueSender); ok {
		p.sender = snd
	}
	return nil
}

// Stop waits for in-flight deliveries.
func (p *Provider) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy always passes once started.
func (p *Provider) Healthy(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.topics == nil {
		return fmt.Errorf("pubsub provider not started")
	}
	return nil
}

// CreateTopic adds a topic at runtime; creating an existing topic
// returns it unchanged.
func (p *Provider) CreateTopic(name string) *Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.topics[name]; ok {
		return t
	}
	t := newTopic(name)
	p.topics[name] = t
	p.reg.PutResource(
		provider.ResourceKey{Service: p.Service(), Name: name},
		provider.Attributes{ID: t.ARN},
	)
	return t
}

// DeleteTopic removes a topic and its subscriptions.
func (p *Provider) DeleteTopic(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.topics[name]; !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, name)
	}
	delete(p.topics, name)
	p.reg.DeleteResource(provider.ResourceKey{Service: p.Service(), Name: name})
	return nil
}

// Topic looks a topic up by name.
func (p *Provider) Topic(name string) (*Topic, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.topics[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, name)
	}
	return t, nil
}

// TopicNames lists topic names in sorted order.
func (p *Provider) TopicNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.topics))
	for name := range p.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Publish fans the message out to every subscriber whose filter policy
// matches, one detached task per subscriber. Returns the message id.
func (p *Provider) Publish(ctx context.Context, topic, message, subject string, attrs map[string]MessageAttribute) (string, error) {
	t, err := p.Topic(topic)
	if err != nil {
		return "", err
	}
	n := newNotification(t.ARN, subject, message, attrs)

	for _, sub := range t.Subscriptions() {
		if !sub.Matches(attrs) {
			continue
		}
		sub := sub
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.deliver(context.Background(), sub, n); err != nil {
				metrics.EventsDispatched.WithLabelValues("pubsub", "error").Inc()
				p.logger.Warn().
					Err(err).
					Str("topic", t.Name).
					Str("subscription", sub.ARN).
					Str("protocol", sub.Protocol).
					Msg("delivery failed")
				return
			}
			metrics.EventsDispatched.WithLabelValues("pubsub", "ok").Inc()
		}()
	}
	return n.MessageID, nil
}

func (p *Provider) deliver(ctx context.Context, sub *Subscription, n Notification) error {
	switch sub.Protocol {
	case ProtocolLambda:
		if p.invoker == nil {
			return fmt.Errorf("no compute provider wired")
		}
		payload, err := json.Marshal(snsEnvelope(sub, n))
		if err != nil {
			return err
		}
		res, err := p.invoker.InvokeFunction(ctx, sub.Endpoint, payload)
		if err != nil {
			return err
		}
		if res.FunctionError != "" {
			return fmt.Errorf("function %s failed: %s", sub.Endpoint, res.FunctionError)
		}
		return nil

	case ProtocolSQS:
		if p.sender == nil {
			return fmt.Errorf("no queue provider wired")
		}
		body := n.Message
		if !sub.RawDelivery {
			encoded, err := n.encode()
			if err != nil {
				return err
			}
			body = encoded
		}
		_, err := p.sender.SendToQueue(ctx, sub.Endpoint, body, flattenAttrs(n.MessageAttributes))
		return err
	}
	return fmt.Errorf("unsupported protocol %q", sub.Protocol)
}

func flattenAttrs(attrs map[string]MessageAttribute) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v.StringValue
	}
	return out
}

func mustParseTime(s string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return ts
}

// snsEnvelope shapes a notification as the records envelope compute
// handlers expect from an aws:sns event source.
func snsEnvelope(sub *Subscription, n Notification) events.SNSEvent {
	attrs := make(map[string]interface{}, len(n.MessageAttributes))
	for k, v := range n.MessageAttributes {
		attrs[k] = map[string]interface{}{"Type": v.DataType, "Value": v.StringValue}
	}
	return events.SNSEvent{
		Records: []events.SNSEventRecord{{
			EventVersion:         "1.0",
			EventSource:          "aws:sns",
			EventSubscriptionArn: sub.ARN,
			SNS: events.SNSEntity{
				Type:              n.Type,
				MessageID:         n.MessageID,
				TopicArn:          n.TopicARN,
				Subject:           n.Subject,
				Message:           n.Message,
				Timestamp:         mustParseTime(n.Timestamp),
				MessageAttributes: attrs,
			},
		}},
	}
}
