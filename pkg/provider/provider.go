package provider

import (
	"context"
)

// State represents the lifecycle state of a provider.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateError    State = "error"
)

// Canonical service identifiers. These double as the ARN service field and
// as the first half of every registry resource key.
const (
	ServiceObjectStore  = "s3"
	ServiceDocStore     = "dynamodb"
	ServiceQueue        = "sqs"
	ServicePubSub       = "sns"
	ServiceEventBus     = "events"
	ServiceWorkflow     = "states"
	ServiceCompute      = "lambda"
	ServiceContainerSvc = "ecs"
)

// Provider is the lifecycle contract every emulated service implements.
// Providers are started in dependency order and stopped in reverse; no
// provider observes events from another until both are running.
type Provider interface {
	// Service returns the canonical service identifier (s3, dynamodb, ...).
	Service() string

	// Start brings the provider to a serving state. It must be safe to call
	// Stop after a failed Start.
	Start(ctx context.Context) error

	// Stop shuts the provider down, completing in-flight work up to the
	// deadline carried by ctx.
	Stop(ctx context.Context) error

	// Healthy is the provider's health predicate; nil means healthy.
	Healthy(ctx context.Context) error
}

// Resetter is implemented by providers that can drop all state without a
// restart. Never used in the normal lifecycle.
type Resetter interface {
	Reset(ctx context.Context) error
}

// PostWirer is implemented by providers that need cross-references after
// every provider is running (compute needs the registry; pubsub needs the
// queue; workflow needs compute).
type PostWirer interface {
	PostWire(reg *Registry) error
}
