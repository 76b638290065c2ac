package compute

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/docstore"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/metrics"
	"github.com/burrowdev/burrow/pkg/provider"
	"github.com/burrowdev/burrow/pkg/queue"
)

// Provider hosts the function registry, the invocation runtimes, and
// the event-source mappings (queue pollers, stream subscriptions).
type Provider struct {
	defs   []config.FunctionDef
	reg    *provider.Registry
	logger zerolog.Logger

	mu        sync.RWMutex
	functions map[string]*Function

	inprocess *inprocessRuntime
	http      *httpRuntime

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProvider builds the provider; functions register at Start.
func NewProvider(defs []config.FunctionDef, reg *provider.Registry) *Provider {
	return &Provider{
		defs:      defs,
		reg:       reg,
		logger:    log.WithService(provider.ServiceCompute),
		functions: map[string]*Function{},
		inprocess: newInprocessRuntime(),
		http:      newHTTPRuntime(),
	}
}

func (p *Provider) Service() string { return provider.ServiceCompute }

// RegisterHandler binds an in-process function body by name. Handlers
// may be registered before or after Start.
func (p *Provider) RegisterHandler(name string, h Handler) {
	p.inprocess.register(name, h)
}

// Start registers the modelled functions. Event sources wire at
// PostWire, once the queue and document-store providers are running.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, def := range p.defs {
		fn, err := functionFromDef(def)
		if err != nil {
			return err
		}
		p.functions[fn.Name] = fn
		p.reg.PutResource(
			provider.ResourceKey{Service: p.Service(), Name: fn.Name},
			provider.Attributes{ID: fn.ARN, Endpoint: fn.Endpoint},
		)
	}
	p.logger.Info().Int("functions", len(p.functions)).Msg("compute provider ready")
	return nil
}

func functionFromDef(def config.FunctionDef) (*Function, error) {
	runtime := def.Runtime
	if runtime == "" {
		runtime = RuntimeInProcess
	}
	if runtime == RuntimeHTTP && def.Endpoint == "" {
		return nil, fmt.Errorf("function %s: http runtime needs an endpoint", def.Name)
	}
	fn := &Function{
		Name:     def.Name,
		ARN:      provider.ARN(provider.ServiceCompute, "function:"+def.Name),
		Runtime:  runtime,
		Endpoint: def.Endpoint,
		MemoryMB: def.MemoryMB,
		Timeout:  time.Duration(def.TimeoutSec) * time.Second,
		Env:      def.Environment,
	}
	if fn.MemoryMB == 0 {
		fn.MemoryMB = defaultMemoryMB
	}
	if fn.Timeout == 0 {
		fn.Timeout = defaultTimeout
	}
	return fn, nil
}

// PostWire attaches event-source mappings to their queues and streams.
func (p *Provider) PostWire(reg *provider.Registry) error {
	qp, _ := reg.Provider(provider.ServiceQueue).(*queue.Provider)
	dp, _ := reg.Provider(provider.ServiceDocStore).(*docstore.Provider)

	var runCtx context.Context
	runCtx, p.cancel = context.WithCancel(context.Background())

	for _, def := range p.defs {
		for _, src := range def.Events {
			batch := src.BatchSize
			if batch == 0 {
				batch = defaultBatchSize
			}

			switch {
			case src.Queue != "":
				if qp == nil {
					return fmt.Errorf("function %s: queue event source %s but no queue provider", def.Name, src.Queue)
				}
				q, err := qp.Queue(src.Queue)
				if err != nil {
					return fmt.Errorf("function %s: %w", def.Name, err)
				}
				p.startPoller(runCtx, def.Name, q, batch)

			case src.Stream != "":
				if dp == nil {
					return fmt.Errorf("function %s: stream event source %s but no document store", def.Name, src.Stream)
				}
				disp, ok := dp.Store().Stream(src.Stream)
				if !ok {
					return fmt.Errorf("function %s: table %s has no stream", def.Name, src.Stream)
				}
				disp.Subscribe(p.streamHandler(def.Name, batch))
			}
		}
	}
	return nil
}

// Stop cancels pollers and waits for in-flight work.
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
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthy always passes once started.
func (p *Provider) Healthy(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.functions == nil {
		return fmt.Errorf("compute provider not started")
	}
	return nil
}

// Function resolves a name or ARN.
func (p *Provider) Function(ref string) (*Function, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, fn := range p.functions {
		if fn.Name == ref || fn.ARN == ref {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, ref)
}

// FunctionNames lists registered functions sorted.
func (p *Provider) FunctionNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.functions))
	for name := range p.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InvokeFunction delivers a payload to a function and returns the
// structured result. Handler failures are a result, not an error;
// errors mean the function could not be invoked at all.
func (p *Provider) InvokeFunction(ctx context.Context, fnRef string, payload []byte) (*provider.InvokeResult, error) {
	fn, err := p.Function(fnRef)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	invokeCtx, cancel := context.WithTimeout(ctx, fn.Timeout)
	defer cancel()

	deadline, _ := invokeCtx.Deadline()
	invokeCtx = withInvokeContext(invokeCtx, &InvokeContext{
		FunctionName: fn.Name,
		InvokedARN:   fn.ARN,
		RequestID:    requestID,
		MemoryMB:     fn.MemoryMB,
		Deadline:     deadline,
		Env:          fn.Env,
	})

	started := time.Now()
	var res *runtimeResult
	switch fn.Runtime {
	case RuntimeHTTP:
		res, err = p.http.invoke(invokeCtx, fn, payload)
	default:
		res, err = p.inprocess.invoke(invokeCtx, fn, payload)
	}
	elapsed := time.Since(started)
	metrics.InvocationDuration.WithLabelValues(fn.Name).Observe(elapsed.Seconds())

	if err != nil {
		metrics.InvocationsTotal.WithLabelValues(fn.Name, "error").Inc()
		p.logger.Error().Err(err).Str("function", fn.Name).Str("request_id", requestID).Msg("invocation failed")
		return nil, err
	}

	outcome := "ok"
	if res.FunctionError != "" {
		outcome = "handler_error"
		p.logger.Warn().
			Str("function", fn.Name).
			Str("request_id", requestID).
			Str("error", res.FunctionError).
			Msg("handler returned an error")
	}
	metrics.InvocationsTotal.WithLabelValues(fn.Name, outcome).Inc()

	return &provider.InvokeResult{
		Payload:       res.Payload,
		FunctionError: res.FunctionError,
		DurationMS:    elapsed.Milliseconds(),
		RequestID:     requestID,
	}, nil
}
