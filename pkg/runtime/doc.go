// Package runtime wraps containerd for long-running service
// containers: pull, create, start, graceful stop, delete, and state
// queries, all under a dedicated namespace.
package runtime
