// Package compute resolves function names to invocable targets and
// delivers events to them. Bodies run either in-process (registered Go
// handlers) or behind an HTTP container endpoint. Event-source mappings
// bridge queues (background batch poller) and document-store change
// streams into functions with the canonical records envelopes.
package compute
