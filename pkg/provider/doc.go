/*
Package provider defines the lifecycle contract shared by every emulated
service and the registry that binds (service, name) resource keys to the
providers owning them.

# Lifecycle

Providers move through stopped → starting → running and are started in
dependency order by the orchestrator, stopped in reverse. A provider that
needs references into another provider (compute reaching the registry,
pubsub reaching the queue, workflow reaching compute) implements PostWirer
and receives the registry only after every provider is running.

# Cross-wiring

Cross-provider calls never hold a direct reference to another provider's
concrete type. They resolve the owning provider through the registry at
call time and go through the narrow capability interfaces declared here
(Invoker, QueueSender), keeping provider lifecycles independent.
*/
package provider
