package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/graph"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/metrics"
	"github.com/burrowdev/burrow/pkg/provider"
)

// StopGracePeriod bounds how long each provider gets to finish in-flight
// work during shutdown.
const StopGracePeriod = 10 * time.Second

// Orchestrator owns the provider set: it starts providers in dependency
// order, stops them in reverse, wires cross-references once everything is
// running and aggregates health.
type Orchestrator struct {
	registry *provider.Registry
	graph    *graph.Graph
	started  []provider.Provider
	logger   zerolog.Logger
}

// New creates an orchestrator. g is the resource dependency graph built
// from the deployment model; nil means registration order.
func New(reg *provider.Registry, g *graph.Graph) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		graph:    g,
		logger:   log.WithComponent("orchestrator"),
	}
}

// Registry returns the shared registry.
func (o *Orchestrator) Registry() *provider.Registry {
	return o.registry
}

// Register adds a provider to the set. Fails if the service is already
// registered.
func (o *Orchestrator) Register(p provider.Provider) error {
	return o.registry.RegisterProvider(p)
}

// StartAll starts every registered provider in dependency order, then runs
// the post-wire hooks. If any start fails, the providers already started
// are stopped in reverse order and the error is surfaced.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	order := o.startOrder()

	for _, p := range order {
		o.logger.Info().Str("service", p.Service()).Msg("starting provider")
		if err := p.Start(ctx); err != nil {
			o.logger.Error().Err(err).Str("service", p.Service()).Msg("provider start failed")
			o.unwind()
			return fmt.Errorf("start %s: %w", p.Service(), err)
		}
		o.started = append(o.started, p)
		metrics.RegisterComponent(p.Service(), true, "running")
		metrics.ProvidersRunning.Set(float64(len(o.started)))
	}

	// Cross-references only after every provider is running: no provider
	// observes events from another until both are up.
	for _, p := range o.started {
		pw, ok := p.(provider.PostWirer)
		if !ok {
			continue
		}
		if err := pw.PostWire(o.registry); err != nil {
			o.logger.Error().Err(err).Str("service", p.Service()).Msg("post-wire failed")
			o.unwind()
			return fmt.Errorf("post-wire %s: %w", p.Service(), err)
		}
	}

	o.logger.Info().Int("providers", len(o.started)).Msg("all providers running")
	return nil
}

// StopAll stops every started provider in reverse order. Stop errors are
// logged and do not prevent subsequent stops.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.unwindCtx(ctx)
}

func (o *Orchestrator) unwind() {
	ctx, cancel := context.WithTimeout(context.Background(), StopGracePeriod)
	defer cancel()
	o.unwindCtx(ctx)
}

func (o *Orchestrator) unwindCtx(ctx context.Context) {
	for i := len(o.started) - 1; i >= 0; i-- {
		p := o.started[i]
		o.logger.Info().Str("service", p.Service()).Msg("stopping provider")
		if err := p.Stop(ctx); err != nil {
			o.logger.Error().Err(err).Str("service", p.Service()).Msg("provider stop failed")
		}
		metrics.DeregisterComponent(p.Service())
	}
	o.started = nil
	metrics.ProvidersRunning.Set(0)
}

// HealthReport holds one provider's health check outcome.
type HealthReport struct {
	Service string
	Err     error
}

// Health calls every provider's health predicate and returns the reports
// in service order. Individual failures are surfaced, never fatal.
func (o *Orchestrator) Health(ctx context.Context) []HealthReport {
	providers := o.registry.Providers()
	reports := make([]HealthReport, 0, len(providers))
	for _, p := range providers {
		err := p.Healthy(ctx)
		if err != nil {
			metrics.UpdateComponent(p.Service(), false, err.Error())
		} else {
			metrics.UpdateComponent(p.Service(), true, "running")
		}
		reports = append(reports, HealthReport{Service: p.Service(), Err: err})
	}
	return reports
}

// Reset invokes the clear-state operation on every provider that has one.
// Never used in the normal lifecycle.
func (o *Orchestrator) Reset(ctx context.Context) error {
	for _, p := range o.registry.Providers() {
		r, ok := p.(provider.Resetter)
		if !ok {
			continue
		}
		if err := r.Reset(ctx); err != nil {
			return fmt.Errorf("reset %s: %w", p.Service(), err)
		}
		o.logger.Info().Str("service", p.Service()).Msg("provider state cleared")
	}
	return nil
}

// startOrder maps the resource graph's topological order onto the provider
// set: a provider starts as early as its earliest resource. Providers with
// no resources in the graph follow in service-name order.
func (o *Orchestrator) startOrder() []provider.Provider {
	providers := o.registry.Providers()
	if o.graph == nil {
		return providers
	}

	rank := make(map[string]int)
	for i, nodeID := range o.graph.TopologicalSort() {
		node := o.graph.Node(nodeID)
		if node == nil {
			continue
		}
		svc := serviceOfKind(node.Kind)
		if svc == "" {
			continue
		}
		if _, ok := rank[svc]; !ok {
			rank[svc] = i
		}
	}

	sort.SliceStable(providers, func(i, j int) bool {
		ri, iok := rank[providers[i].Service()]
		rj, jok := rank[providers[j].Service()]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return providers[i].Service() < providers[j].Service()
		}
	})
	return providers
}

func serviceOfKind(kind graph.NodeKind) string {
	switch kind {
	case graph.KindFunction, graph.KindRouteSet:
		return provider.ServiceCompute
	case graph.KindTable:
		return provider.ServiceDocStore
	case graph.KindQueue:
		return provider.ServiceQueue
	case graph.KindBucket:
		return provider.ServiceObjectStore
	case graph.KindTopic:
		return provider.ServicePubSub
	case graph.KindEventBus:
		return provider.ServiceEventBus
	case graph.KindWorkflow:
		return provider.ServiceWorkflow
	case graph.KindContainerSvc:
		return provider.ServiceContainerSvc
	default:
		return ""
	}
}
