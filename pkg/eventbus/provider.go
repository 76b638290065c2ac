package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/metrics"
	"github.com/burrowdev/burrow/pkg/provider"
)

// Bus is one event bus with its rules.
type Bus struct {
	Name  string
	ARN   string
	rules map[string]*Rule
}

// Provider hosts event buses: pattern rules route put events, scheduled
// rules fire from a shared cron runner.
type Provider struct {
	defs   []config.BusDef
	reg    *provider.Registry
	logger zerolog.Logger

	mu    sync.RWMutex
	buses map[string]*Bus

	cron    *cron.Cron
	invoker provider.Invoker
	sender  provider.QueueSender
	wg      sync.WaitGroup
}

// NewProvider builds the provider; buses and schedules start at Start.
func NewProvider(defs []config.BusDef, reg *provider.Registry) *Provider {
	return &Provider{
		defs:   defs,
		reg:    reg,
		logger: log.WithService(provider.ServiceEventBus),
		buses:  map[string]*Bus{},
	}
}

func (p *Provider) Service() string { return provider.ServiceEventBus }

// Start creates the modelled buses and registers schedules. The cron
// runner only starts ticking after PostWire binds delivery targets.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cron = cron.New()
	for _, def := range p.defs {
		bus := &Bus{
			Name:  def.Name,
			ARN:   provider.ARN(p.Service(), "event-bus/"+def.Name),
			rules: map[string]*Rule{},
		}
		for _, rd := range def.Rules {
			rule := &Rule{
				Name:     rd.Name,
				Pattern:  rd.Pattern,
				Schedule: rd.Schedule,
				Targets:  targetsFromDef(rd.Targets),
			}
			bus.rules[rule.Name] = rule

			if rule.Schedule != "" {
				spec, err := cronSpec(rule.Schedule)
				if err != nil {
					return fmt.Errorf("bus %s rule %s: %w", def.Name, rule.Name, err)
				}
				busName, rule := def.Name, rule
				if _, err := p.cron.AddFunc(spec, func() { p.fireScheduled(busName, rule) }); err != nil {
					return fmt.Errorf("bus %s rule %s: %w", def.Name, rule.Name, err)
				}
			}
		}
		p.buses[def.Name] = bus
		p.reg.PutResource(
			provider.ResourceKey{Service: p.Service(), Name: def.Name},
			provider.Attributes{ID: bus.ARN},
		)
	}
	p.logger.Info().Int("buses", len(p.buses)).Msg("event bus provider ready")
	return nil
}

func targetsFromDef(defs []config.RuleTargetDef) []Target {
	out := make([]Target, 0, len(defs))
	for _, d := range defs {
		out = append(out, Target{Function: d.Function, Queue: d.Queue})
	}
	return out
}

// PostWire binds delivery capabilities and starts the schedule runner.
func (p *Provider) PostWire(reg *provider.Registry) error {
	if inv, ok := reg.Provider(provider.ServiceCompute).(provider.Invoker); ok {
		p.invoker = inv
	}
	if snd, ok := reg.Provider(provider.ServiceQueue).(provider.QueueSender); ok {
		p.sender = snd
	}
	p.cron.Start()
	return nil
}

// Stop halts schedules and waits for in-flight deliveries.
func (p *Provider) Stop(ctx context.Context) error {
	if p.cron != nil {
		cronCtx := p.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy always passes once started.
func (p *Provider) Healthy(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.buses == nil {
		return fmt.Errorf("event bus provider not started")
	}
	return nil
}

// BusNames lists bus names in sorted order.
func (p *Provider) BusNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.buses))
	for name := range p.buses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rules lists one bus's rules in name order.
func (p *Provider) Rules(bus string) ([]*Rule, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.buses[bus]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBusNotFound, bus)
	}
	out := make([]*Rule, 0, len(b.rules))
	for _, r := range b.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PutEvents routes each event through the named bus's pattern rules.
// Returns the event ids.
func (p *Provider) PutEvents(ctx context.Context, bus string, evs []Event) ([]string, error) {
	p.mu.RLock()
	b, ok := p.buses[bus]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBusNotFound, bus)
	}

	ids := make([]string, 0, len(evs))
	for _, ev := range evs {
		if ev.ID == "" {
			ev.ID = NewEvent(ev.Source, ev.DetailType, ev.Detail).ID
		}
		if ev.Time.IsZero() {
			ev.Time = time.Now().UTC()
		}
		ev.BusName = bus
		ids = append(ids, ev.ID)

		for _, rule := range b.rules {
			if rule.Matches(ev) {
				p.dispatch(bus, rule, ev)
			}
		}
	}
	return ids, nil
}

// fireScheduled emits one synthetic event to a scheduled rule's targets.
func (p *Provider) fireScheduled(bus string, rule *Rule) {
	ev := NewEvent("burrow.scheduler", "Scheduled Event", json.RawMessage(`{}`))
	ev.BusName = bus
	p.dispatch(bus, rule, ev)
}

// dispatch delivers an event to every rule target, one task each.
func (p *Provider) dispatch(bus string, rule *Rule, ev Event) {
	for _, tgt := range rule.Targets {
		tgt := tgt
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.deliver(context.Background(), tgt, ev); err != nil {
				metrics.EventsDispatched.WithLabelValues("eventbus", "error").Inc()
				p.logger.Warn().
					Err(err).
					Str("bus", bus).
					Str("rule", rule.Name).
					Msg("target delivery failed")
				return
			}
			metrics.EventsDispatched.WithLabelValues("eventbus", "ok").Inc()
		}()
	}
}

func (p *Provider) deliver(ctx context.Context, tgt Target, ev Event) error {
	switch {
	case tgt.Function != "":
		if p.invoker == nil {
			return fmt.Errorf("no compute provider wired")
		}
		payload, err := json.Marshal(busEnvelope(ev))
		if err != nil {
			return err
		}
		res, err := p.invoker.InvokeFunction(ctx, tgt.Function, payload)
		if err != nil {
			return err
		}
		if res.FunctionError != "" {
			return fmt.Errorf("function %s failed: %s", tgt.Function, res.FunctionError)
		}
		return nil

	case tgt.Queue != "":
		if p.sender == nil {
			return fmt.Errorf("no queue provider wired")
		}
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = p.sender.SendToQueue(ctx, tgt.Queue, string(body), nil)
		return err
	}
	return fmt.Errorf("rule target has neither function nor queue")
}

// busEnvelope shapes an event the way compute handlers expect bus
// deliveries.
func busEnvelope(ev Event) events.CloudWatchEvent {
	return events.CloudWatchEvent{
		Version:    "0",
		ID:         ev.ID,
		DetailType: ev.DetailType,
		Source:     ev.Source,
		AccountID:  provider.DefaultAccount,
		Region:     provider.DefaultRegion,
		Time:       ev.Time,
		Detail:     ev.Detail,
	}
}
