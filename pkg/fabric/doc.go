// Package fabric carries events between emulated services.
//
// Two dispatchers live here. NotificationDispatcher fans object-store
// events out to matching handlers as fire-and-forget tasks: a failing
// handler is logged and counted, never surfaced to the producer.
// StreamDispatcher buffers document-store change records per table and
// flushes them to subscribers in windowed batches, dropping records
// with a warning when a consumer cannot keep up.
package fabric
