package provider

import "context"

// InvokeResult is the structured result of one compute invocation.
type InvokeResult struct {
	Payload       []byte
	FunctionError string // non-empty when the handler itself failed
	DurationMS    int64
	RequestID     string
}

// Invoker is the compute capability other providers reach through the
// registry: pubsub subscribers, queue pollers, stream handlers and workflow
// task states all bottom out here. fnRef is a function name or ARN.
type Invoker interface {
	InvokeFunction(ctx context.Context, fnRef string, payload []byte) (*InvokeResult, error)
}

// QueueSender is the queue capability used for cross-provider delivery
// (pubsub queue subscriptions, event-bus queue targets).
type QueueSender interface {
	SendToQueue(ctx context.Context, queue, body string, attrs map[string]string) (string, error)
}
