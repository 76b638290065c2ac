package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/burrowdev/burrow/pkg/provider"
)

var (
	// ErrTopicNotFound reports an operation against an unknown topic.
	ErrTopicNotFound = errors.New("topic not found")

	// ErrSubscriptionNotFound reports an unknown subscription ARN.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Protocols a subscription can use.
const (
	ProtocolLambda = "lambda"
	ProtocolSQS    = "sqs"
)

// MessageAttribute is one typed publish attribute.
type MessageAttribute struct {
	DataType    string `json:"Type"`
	StringValue string `json:"Value"`
}

// Subscription binds one endpoint to a topic.
type Subscription struct {
	ARN          string
	TopicARN     string
	Protocol     string
	Endpoint     string // function name or queue name
	RawDelivery  bool
	FilterPolicy map[string][]string
}

// Matches applies the filter policy to a message's attributes: every
// policy key must name an attribute whose value is in the accepted
// list. A missing attribute is not a match.
func (s *Subscription) Matches(attrs map[string]MessageAttribute) bool {
	for key, accepted := range s.FilterPolicy {
		attr, ok := attrs[key]
		if !ok {
			return false
		}
		found := false
		for _, v := range accepted {
			if attr.StringValue == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Topic is one pub/sub topic with its subscriptions.
type Topic struct {
	Name string
	ARN  string

	mu   sync.RWMutex
	subs map[string]*Subscription
}

func newTopic(name string) *Topic {
	return &Topic{
		Name: name,
		ARN:  provider.ARN(provider.ServicePubSub, name),
		subs: map[string]*Subscription{},
	}
}

// Subscribe adds a subscription and returns its ARN.
func (t *Topic) Subscribe(protocol, endpoint string, rawDelivery bool, filterPolicy map[string][]string) (string, error) {
	switch protocol {
	case ProtocolLambda, ProtocolSQS:
	default:
		return "", fmt.Errorf("unsupported protocol %q", protocol)
	}
	sub := &Subscription{
		ARN:          t.ARN + ":" + uuid.NewString(),
		TopicARN:     t.ARN,
		Protocol:     protocol,
		Endpoint:     endpoint,
		RawDelivery:  rawDelivery,
		FilterPolicy: filterPolicy,
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[sub.ARN] = sub
	return sub.ARN, nil
}

// Unsubscribe removes a subscription. Unknown ARNs are a no-op.
func (t *Topic) Unsubscribe(subARN string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, subARN)
}

// Subscription looks one subscription up by ARN.
func (t *Topic) Subscription(subARN string) (*Subscription, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sub, ok := t.subs[subARN]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subARN)
	}
	return sub, nil
}

// SetSubscriptionAttributes updates the mutable subscription settings.
func (t *Topic) SetSubscriptionAttributes(subARN string, rawDelivery *bool, filterPolicy map[string][]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, ok := t.subs[subARN]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subARN)
	}
	if rawDelivery != nil {
		sub.RawDelivery = *rawDelivery
	}
	if filterPolicy != nil {
		sub.FilterPolicy = filterPolicy
	}
	return nil
}

// Subscriptions lists the topic's subscriptions in ARN order.
func (t *Topic) Subscriptions() []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Subscription, 0, len(t.subs))
	for _, s := range t.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ARN < out[j].ARN })
	return out
}

// Notification is the delivery envelope. Queue subscribers receive it
// stringified as the message body (unless raw delivery is set); compute
// subscribers receive it inside a records wrapper.
type Notification struct {
	Type              string                      `json:"Type"`
	MessageID         string                      `json:"MessageId"`
	TopicARN          string                      `json:"TopicArn"`
	Subject           string                      `json:"Subject,omitempty"`
	Message           string                      `json:"Message"`
	Timestamp         string                      `json:"Timestamp"`
	MessageAttributes map[string]MessageAttribute `json:"MessageAttributes,omitempty"`
}

func newNotification(topicARN, subject, message string, attrs map[string]MessageAttribute) Notification {
	return Notification{
		Type:              "Notification",
		MessageID:         uuid.NewString(),
		TopicARN:          topicARN,
		Subject:           subject,
		Message:           message,
		Timestamp:         time.Now().UTC().Format(time.RFC3339Nano),
		MessageAttributes: attrs,
	}
}

func (n Notification) encode() (string, error) {
	raw, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
