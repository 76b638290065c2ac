package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/provider"
)

// Provider hosts the registered state machines and their executions.
type Provider struct {
	defs    []config.StateMachineDef
	baseDir string
	reg     *provider.Registry
	logger  zerolog.Logger

	executor *Executor
	bridge   *computeBridge
}

// NewProvider builds the provider. baseDir anchors relative
// definitionFile paths (usually the model file's directory).
func NewProvider(defs []config.StateMachineDef, baseDir string, reg *provider.Registry) *Provider {
	bridge := &computeBridge{}
	return &Provider{
		defs:     defs,
		baseDir:  baseDir,
		reg:      reg,
		logger:   log.WithService(provider.ServiceWorkflow),
		executor: NewExecutor(bridge, 5*time.Minute),
		bridge:   bridge,
	}
}

func (p *Provider) Service() string { return provider.ServiceWorkflow }

// Start parses and registers every modelled machine.
func (p *Provider) Start(ctx context.Context) error {
	for _, def := range p.defs {
		definition, err := p.loadDefinition(def)
		if err != nil {
			return err
		}
		m, err := p.executor.Register(def.Name, def.Type, definition)
		if err != nil {
			return err
		}
		p.reg.PutResource(
			provider.ResourceKey{Service: p.Service(), Name: def.Name},
			provider.Attributes{ID: m.ARN},
		)
		p.logger.Info().
			Str("machine", def.Name).
			Str("type", m.Type).
			Int("states", len(m.SM.States)).
			Msg("state machine registered")
	}
	return nil
}

func (p *Provider) loadDefinition(def config.StateMachineDef) ([]byte, error) {
	switch {
	case def.Definition != "":
		return []byte(def.Definition), nil
	case def.DefinitionFile != "":
		path := def.DefinitionFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.baseDir, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("state machine %s: %w", def.Name, err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("state machine %s: needs definition or definitionFile", def.Name)
}

// PostWire binds the compute bridge. Machines whose tasks never invoke
// compute still run without one.
func (p *Provider) PostWire(reg *provider.Registry) error {
	if inv, ok := reg.Provider(provider.ServiceCompute).(provider.Invoker); ok {
		p.bridge.invoker = inv
	}
	return nil
}

// Stop waits for asynchronous executions to settle.
func (p *Provider) Stop(ctx context.Context) error {
	return p.executor.Drain(ctx)
}

// Healthy always passes once started.
func (p *Provider) Healthy(ctx context.Context) error { return nil }

// Reset aborts running executions and clears history.
func (p *Provider) Reset(ctx context.Context) error {
	p.executor.Reset()
	return nil
}

// Executor exposes the execution API to transport adaptors.
func (p *Provider) Executor() *Executor { return p.executor }

// StartExecution runs a machine: express machines run synchronously,
// standard ones in the background.
func (p *Provider) StartExecution(ctx context.Context, machineRef, name string, input json.RawMessage) (Execution, error) {
	m, err := p.executor.Machine(machineRef)
	if err != nil {
		return Execution{}, err
	}
	if m.Type == TypeExpress {
		return p.executor.StartSyncExecution(ctx, machineRef, name, input)
	}
	return p.executor.StartExecution(machineRef, name, input)
}

// computeBridge adapts the registry's compute capability to the
// interpreter's task contract.
type computeBridge struct {
	invoker provider.Invoker
}

func (b *computeBridge) InvokeTask(ctx context.Context, resource string, input any) (any, error) {
	if b.invoker == nil {
		return nil, &stateError{Code: ErrTaskFailed, Cause: "no compute provider wired"}
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: fmt.Sprintf("task input not serialisable: %v", err)}
	}

	res, err := b.invoker.InvokeFunction(ctx, resource, payload)
	if err != nil {
		return nil, err
	}
	if res.FunctionError != "" {
		return nil, handlerError(res.Payload, res.FunctionError)
	}

	var out any
	if len(res.Payload) > 0 {
		if err := json.Unmarshal(res.Payload, &out); err != nil {
			return nil, &stateError{Code: ErrTaskFailed, Cause: fmt.Sprintf("task result not JSON: %v", err)}
		}
	}
	return out, nil
}

// handlerError maps a failed invocation's payload to a coded error so
// retry/catch can match on the handler's own error type.
func handlerError(payload []byte, fallback string) *stateError {
	var body struct {
		ErrorType    string `json:"errorType"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.ErrorType != "" {
		return &stateError{Code: body.ErrorType, Cause: body.ErrorMessage}
	}
	return &stateError{Code: ErrTaskFailed, Cause: fallback}
}
