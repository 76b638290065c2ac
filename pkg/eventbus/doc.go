// Package eventbus routes events through named buses. Pattern rules
// match put events on source and detail-type; scheduled rules fire from
// rate(...) or cron(...) expressions on a shared cron runner. Matched
// events reach their targets (compute functions or queues) on detached
// tasks.
package eventbus
