package containersvc

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/provider"
	"github.com/burrowdev/burrow/pkg/runtime"
)

// reconcileInterval is how often desired state is re-checked.
const reconcileInterval = 5 * time.Second

// containerRuntime is the slice of the runtime client the reconciler
// needs.
type containerRuntime interface {
	PullImage(ctx context.Context, imageRef string) error
	CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	DeleteContainer(ctx context.Context, containerID string) error
	IsRunning(ctx context.Context, containerID string) bool
	Close() error
}

// Service is one managed service with its running containers.
type Service struct {
	Name     string
	Image    string
	Replicas int
	Env      map[string]string
	Port     int

	pulled     bool
	containers []string
}

// TaskState reports one service's reconciliation status.
type TaskState struct {
	Service string
	Desired int
	Running int
}

// Provider reconciles long-running service containers through
// containerd. Without a configured socket the provider starts disabled
// and every service stays at zero replicas.
type Provider struct {
	defs       []config.ContainerSvcDef
	socketPath string
	reg        *provider.Registry
	logger     zerolog.Logger

	mu       sync.Mutex
	services map[string]*Service
	rt       containerRuntime

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProvider builds the provider. An empty socketPath disables it.
func NewProvider(defs []config.ContainerSvcDef, socketPath string, reg *provider.Registry) *Provider {
	return &Provider{
		defs:       defs,
		socketPath: socketPath,
		reg:        reg,
		logger:     log.WithService(provider.ServiceContainerSvc),
		services:   map[string]*Service{},
	}
}

func (p *Provider) Service() string { return provider.ServiceContainerSvc }

// Start connects to containerd and begins reconciling. With no socket
// configured the provider comes up disabled rather than failing.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	for _, def := range p.defs {
		replicas := def.Replicas
		if replicas == 0 {
			replicas = 1
		}
		p.services[def.Name] = &Service{
			Name:     def.Name,
			Image:    def.Image,
			Replicas: replicas,
			Env:      def.Env,
			Port:     def.Port,
		}
		p.reg.PutResource(
			provider.ResourceKey{Service: p.Service(), Name: def.Name},
			provider.Attributes{ID: provider.ARN(p.Service(), "service/"+def.Name)},
		)
	}

	if p.rt == nil {
		if p.socketPath == "" {
			p.mu.Unlock()
			p.logger.Info().Msg("no containerd socket configured, container services disabled")
			return nil
		}
		rt, err := runtime.NewContainerdRuntime(p.socketPath)
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("container service runner: %w", err)
		}
		p.rt = rt
	}
	p.mu.Unlock()

	var runCtx context.Context
	runCtx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.reconcileLoop(runCtx)

	p.logger.Info().Int("services", len(p.defs)).Msg("container service runner started")
	return nil
}

func (p *Provider) reconcileLoop(ctx context.Context) {
	defer p.wg.Done()

	p.reconcile(ctx)
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.reconcile(ctx)
		}
	}
}

// reconcile drives every service toward its desired replica count.
func (p *Provider) reconcile(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, svc := range p.services {
		if err := p.reconcileService(ctx, svc); err != nil {
			p.logger.Warn().Err(err).Str("service", svc.Name).Msg("reconcile failed")
		}
	}
}

func (p *Provider) reconcileService(ctx context.Context, svc *Service) error {
	// drop containers that died since the last pass
	alive := svc.containers[:0]
	for _, id := range svc.containers {
		if p.rt.IsRunning(ctx, id) {
			alive = append(alive, id)
			continue
		}
		if err := p.rt.DeleteContainer(ctx, id); err != nil {
			p.logger.Warn().Err(err).Str("container", id).Msg("cleanup of dead container failed")
		}
	}
	svc.containers = alive

	for len(svc.containers) < svc.Replicas {
		if !svc.pulled {
			if err := p.rt.PullImage(ctx, svc.Image); err != nil {
				return fmt.Errorf("pulling %s: %w", svc.Image, err)
			}
			svc.pulled = true
		}
		id := containerID(svc.Name)
		if _, err := p.rt.CreateContainer(ctx, runtime.ContainerSpec{
			ID:       id,
			Image:    svc.Image,
			Hostname: svc.Name,
			Env:      svc.Env,
		}); err != nil {
			return fmt.Errorf("creating container for %s: %w", svc.Name, err)
		}
		if err := p.rt.StartContainer(ctx, id); err != nil {
			return fmt.Errorf("starting container for %s: %w", svc.Name, err)
		}
		svc.containers = append(svc.containers, id)
		p.logger.Info().Str("service", svc.Name).Str("container", id).Msg("container started")
	}

	for len(svc.containers) > svc.Replicas {
		last := svc.containers[len(svc.containers)-1]
		if err := p.rt.DeleteContainer(ctx, last); err != nil {
			return fmt.Errorf("scaling down %s: %w", svc.Name, err)
		}
		svc.containers = svc.containers[:len(svc.containers)-1]
		p.logger.Info().Str("service", svc.Name).Str("container", last).Msg("container removed")
	}
	return nil
}

func containerID(service string) string {
	return service + "-" + strings.Split(uuid.NewString(), "-")[0]
}

// Scale adjusts a service's desired replica count; the next reconcile
// pass applies it.
func (p *Provider) Scale(name string, replicas int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	svc, ok := p.services[name]
	if !ok {
		return fmt.Errorf("unknown service %s", name)
	}
	svc.Replicas = replicas
	return nil
}

// TaskStates reports desired vs running per service, sorted by name.
func (p *Provider) TaskStates(ctx context.Context) []TaskState {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TaskState, 0, len(p.services))
	for _, svc := range p.services {
		running := 0
		if p.rt != nil {
			for _, id := range svc.containers {
				if p.rt.IsRunning(ctx, id) {
					running++
				}
			}
		}
		out = append(out, TaskState{Service: svc.Name, Desired: svc.Replicas, Running: running})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Stop halts reconciliation and tears down every managed container.
func (p *Provider) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rt == nil {
		return nil
	}
	for _, svc := range p.services {
		for _, id := range svc.containers {
			if err := p.rt.DeleteContainer(ctx, id); err != nil {
				p.logger.Warn().Err(err).Str("container", id).Msg("container teardown failed")
			}
		}
		svc.containers = nil
	}
	return p.rt.Close()
}

// Healthy passes when disabled or connected.
func (p *Provider) Healthy(ctx context.Context) error { return nil }
