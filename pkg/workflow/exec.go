package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/metrics"
	"github.com/burrowdev/burrow/pkg/provider"
)

// Execution statuses.
const (
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusAborted   = "ABORTED"
)

// Machine types.
const (
	TypeStandard = "standard"
	TypeExpress  = "express"
)

var (
	ErrMachineNotFound   = errors.New("state machine not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionExists   = errors.New("execution name already in use")
)

// Machine is a registered state machine.
type Machine struct {
	Name string
	Type string
	ARN  string
	SM   *StateMachine
}

// HistoryEvent is one entry of an execution's history.
type HistoryEvent struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	State     string          `json:"state"`
	StateType string          `json:"stateType"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Execution is a queryable snapshot of one run.
type Execution struct {
	ARN         string          `json:"executionArn"`
	Name        string          `json:"name"`
	MachineARN  string          `json:"stateMachineArn"`
	MachineName string          `json:"stateMachineName"`
	Status      string          `json:"status"`
	Input       json.RawMessage `json:"input"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Cause       string          `json:"cause,omitempty"`
	StartedAt   time.Time       `json:"startDate"`
	StoppedAt   *time.Time      `json:"stopDate,omitempty"`
	History     []HistoryEvent  `json:"-"`
}

// execution is the mutable record behind a snapshot.
type execution struct {
	mu      sync.Mutex
	snap    Execution
	history []HistoryEvent
	cancel  context.CancelFunc
}

func (e *execution) snapshot() Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.snap
	out.History = append([]HistoryEvent(nil), e.history...)
	return out
}

func (e *execution) record(state, stateType string, output any, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ev := HistoryEvent{
		ID:        len(e.history) + 1,
		Timestamp: time.Now().UTC(),
		State:     state,
		StateType: stateType,
	}
	if output != nil {
		if raw, merr := json.Marshal(output); merr == nil {
			ev.Output = raw
		}
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.history = append(e.history, ev)
}

// finish marks the terminal status, unless the execution was already
// aborted (a stop racing a finishing run keeps ABORTED).
func (e *execution) finish(status string, output any, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap.Status != StatusRunning {
		return
	}
	now := time.Now().UTC()
	e.snap.Status = status
	e.snap.StoppedAt = &now
	if output != nil {
		if raw, merr := json.Marshal(output); merr == nil {
			e.snap.Output = raw
		}
	}
	if err != nil {
		serr := asStateError(err)
		e.snap.Error = serr.Code
		e.snap.Cause = serr.Cause
	}
}

// Executor owns the registered machines and their executions.
type Executor struct {
	interp *Interpreter

	mu         sync.RWMutex
	machines   map[string]*Machine
	executions map[string]*execution

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewExecutor builds an executor over a task invoker. maxWait caps
// Wait states.
func NewExecutor(invoker TaskInvoker, maxWait time.Duration) *Executor {
	return &Executor{
		interp:     NewInterpreter(invoker, maxWait),
		machines:   make(map[string]*Machine),
		executions: make(map[string]*execution),
		logger:     log.WithService("workflow"),
	}
}

// Register parses and registers a machine definition.
func (x *Executor) Register(name, machineType string, definition []byte) (*Machine, error) {
	sm, err := Parse(definition)
	if err != nil {
		return nil, fmt.Errorf("state machine %s: %w", name, err)
	}
	if machineType == "" {
		machineType = TypeStandard
	}
	m := &Machine{
		Name: name,
		Type: machineType,
		ARN:  provider.ARN(provider.ServiceWorkflow, "stateMachine:"+name),
		SM:   sm,
	}
	x.mu.Lock()
	x.machines[name] = m
	x.mu.Unlock()
	return m, nil
}

// Machine looks a machine up by name or ARN.
func (x *Executor) Machine(ref string) (*Machine, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, m := range x.machines {
		if m.Name == ref || m.ARN == ref {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMachineNotFound, ref)
}

// Machines lists registered machines sorted by name.
func (x *Executor) Machines() []*Machine {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]*Machine, 0, len(x.machines))
	for _, m := range x.machines {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StartExecution begins an asynchronous run and returns its snapshot
// immediately. An empty name gets a generated one.
func (x *Executor) StartExecution(machineRef, name string, input json.RawMessage) (Execution, error) {
	m, e, err := x.begin(machineRef, name, input)
	if err != nil {
		return Execution{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		defer cancel()
		x.run(runCtx, m, e, input)
	}()
	return e.snapshot(), nil
}

// StartSyncExecution runs to completion and returns the terminal
// snapshot. Express machines use this path.
func (x *Executor) StartSyncExecution(ctx context.Context, machineRef, name string, input json.RawMessage) (Execution, error) {
	m, e, err := x.begin(machineRef, name, input)
	if err != nil {
		return Execution{}, err
	}
	x.run(ctx, m, e, input)
	return e.snapshot(), nil
}

// StopExecution aborts a running execution. In-flight task invocations
// are not interrupted; their results are discarded.
func (x *Executor) StopExecution(executionARN, errCode, cause string) (Execution, error) {
	x.mu.RLock()
	e, ok := x.executions[executionARN]
	x.mu.RUnlock()
	if !ok {
		return Execution{}, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionARN)
	}

	e.mu.Lock()
	cancel := e.cancel
	if e.snap.Status == StatusRunning {
		now := time.Now().UTC()
		e.snap.Status = StatusAborted
		e.snap.StoppedAt = &now
		e.snap.Error = errCode
		e.snap.Cause = cause
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return e.snapshot(), nil
}

// DescribeExecution returns the snapshot for an ARN.
func (x *Executor) DescribeExecution(executionARN string) (Execution, error) {
	x.mu.RLock()
	e, ok := x.executions[executionARN]
	x.mu.RUnlock()
	if !ok {
		return Execution{}, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionARN)
	}
	return e.snapshot(), nil
}

// History returns the recorded state transitions for an ARN.
func (x *Executor) History(executionARN string) ([]HistoryEvent, error) {
	snap, err := x.DescribeExecution(executionARN)
	if err != nil {
		return nil, err
	}
	return snap.History, nil
}

// ListExecutions returns executions of one machine, newest first.
func (x *Executor) ListExecutions(machineRef string) ([]Execution, error) {
	m, err := x.Machine(machineRef)
	if err != nil {
		return nil, err
	}
	x.mu.RLock()
	out := make([]Execution, 0)
	for _, e := range x.executions {
		snap := e.snapshot()
		if snap.MachineName == m.Name {
			out = append(out, snap)
		}
	}
	x.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Drain waits for all asynchronous executions to settle.
func (x *Executor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		x.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset aborts everything running and forgets all executions.
func (x *Executor) Reset() {
	x.mu.Lock()
	execs := make([]*execution, 0, len(x.executions))
	for _, e := range x.executions {
		execs = append(execs, e)
	}
	x.executions = make(map[string]*execution)
	x.mu.Unlock()

	for _, e := range execs {
		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}

func (x *Executor) begin(machineRef, name string, input json.RawMessage) (*Machine, *execution, error) {
	m, err := x.Machine(machineRef)
	if err != nil {
		return nil, nil, err
	}
	if name == "" {
		name = uuid.NewString()
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	arn := provider.ARN(provider.ServiceWorkflow, fmt.Sprintf("execution:%s:%s", m.Name, name))

	e := &execution{
		snap: Execution{
			ARN:         arn,
			Name:        name,
			MachineARN:  m.ARN,
			MachineName: m.Name,
			Status:      StatusRunning,
			Input:       input,
			StartedAt:   time.Now().UTC(),
		},
	}

	x.mu.Lock()
	if _, dup := x.executions[arn]; dup {
		x.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: %s", ErrExecutionExists, name)
	}
	x.executions[arn] = e
	x.mu.Unlock()
	return m, e, nil
}

// run drives the interpreter and settles the execution record.
func (x *Executor) run(ctx context.Context, m *Machine, e *execution, input json.RawMessage) {
	started := time.Now()

	var parsed any
	if err := json.Unmarshal(input, &parsed); err != nil {
		e.finish(StatusFailed, nil, &stateError{Code: ErrRuntime, Cause: fmt.Sprintf("execution input is not JSON: %v", err)})
		x.settle(m, e, started)
		return
	}

	execCtx := map[string]any{
		"Execution": map[string]any{
			"Id":        e.snap.ARN,
			"Name":      e.snap.Name,
			"Input":     parsed,
			"StartTime": e.snap.StartedAt.Format(time.RFC3339),
		},
		"StateMachine": map[string]any{
			"Id":   m.ARN,
			"Name": m.Name,
		},
	}

	output, err := x.interp.Run(ctx, m.SM, parsed, execCtx, e.record)
	switch {
	case err == nil:
		e.finish(StatusSucceeded, output, nil)
	case errors.Is(err, context.Canceled):
		// StopExecution already settled the record
	default:
		e.finish(StatusFailed, nil, err)
	}
	x.settle(m, e, started)
}

func (x *Executor) settle(m *Machine, e *execution, started time.Time) {
	snap := e.snapshot()
	metrics.ExecutionsTotal.WithLabelValues(snap.Status).Inc()
	metrics.ExecutionDuration.WithLabelValues(m.Name).Observe(time.Since(started).Seconds())

	evt := x.logger.Info()
	if snap.Status != StatusSucceeded {
		evt = x.logger.Warn()
	}
	evt.Str("machine", m.Name).
		Str("execution", snap.Name).
		Str("status", snap.Status).
		Str("error", snap.Error).
		Msg("Execution finished")
}
