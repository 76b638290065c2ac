// Package queue implements standard and FIFO message queues with
// visibility timeouts, long-poll receive, receipt handles, purge, and
// dead-letter redrive. A message is always in exactly one of three
// states: visible, in-flight, or deleted; visibility expiry returns an
// in-flight message to visible.
package queue
