// Package metrics holds the process-wide prometheus collectors, the
// aggregated component health registry behind /healthz, and the admin
// HTTP server that exposes both. Providers report through the
// package-level collectors; the orchestrator keeps the component
// registry in step with provider lifecycle.
package metrics
