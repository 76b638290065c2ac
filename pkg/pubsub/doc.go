// Package pubsub implements topics with filtered fan-out. A publish is
// matched against each subscription's filter policy and delivered on an
// independent task: compute subscribers get a records envelope, queue
// subscribers get the stringified notification (or the raw message body
// when raw delivery is set). Delivery is best-effort; subscriber
// failures are logged, never retried here.
package pubsub
