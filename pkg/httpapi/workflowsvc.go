package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/burrowdev/burrow/pkg/provider"
	"github.com/burrowdev/burrow/pkg/workflow"
)

// WorkflowBinding registers the workflow actions on a table (typed
// JSON 1.0 only).
type WorkflowBinding struct {
	provider *workflow.Provider
}

// BindWorkflow wires the workflow actions into the table.
func BindWorkflow(t *Table, p *workflow.Provider) {
	b := &WorkflowBinding{provider: p}
	svc := provider.ServiceWorkflow
	t.Register(svc, "StartExecution", b.startExecution)
	t.Register(svc, "StartSyncExecution", b.startSyncExecution)
	t.Register(svc, "DescribeExecution", b.describeExecution)
	t.Register(svc, "StopExecution", b.stopExecution)
	t.Register(svc, "ListStateMachines", b.listStateMachines)
	t.Register(svc, "ListExecutions", b.listExecutions)
	t.Register(svc, "GetExecutionHistory", b.getExecutionHistory)
}

func workflowError(err error) error {
	switch {
	case errors.Is(err, workflow.ErrMachineNotFound):
		return apiErrorf(http.StatusBadRequest, "StateMachineDoesNotExist", "%v", err)
	case errors.Is(err, workflow.ErrExecutionNotFound):
		return apiErrorf(http.StatusBadRequest, "ExecutionDoesNotExist", "%v", err)
	case errors.Is(err, workflow.ErrExecutionExists):
		return apiErrorf(http.StatusBadRequest, "ExecutionAlreadyExists", "%v", err)
	default:
		return err
	}
}

func (b *WorkflowBinding) startExecution(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		StateMachineArn string          `json:"stateMachineArn"`
		Name            string          `json:"name"`
		Input           json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	exec, err := b.provider.StartExecution(ctx, in.StateMachineArn, in.Name, in.Input)
	if err != nil {
		return nil, workflowError(err)
	}
	return map[string]any{
		"executionArn": exec.ARN,
		"startDate":    exec.StartedAt,
	}, nil
}

func (b *WorkflowBinding) startSyncExecution(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		StateMachineArn string          `json:"stateMachineArn"`
		Name            string          `json:"name"`
		Input           json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	exec, err := b.provider.Executor().StartSyncExecution(ctx, in.StateMachineArn, in.Name, in.Input)
	if err != nil {
		return nil, workflowError(err)
	}
	return exec, nil
}

func (b *WorkflowBinding) describeExecution(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		ExecutionArn string `json:"executionArn"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	exec, err := b.provider.Executor().DescribeExecution(in.ExecutionArn)
	if err != nil {
		return nil, workflowError(err)
	}
	return exec, nil
}

func (b *WorkflowBinding) stopExecution(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		ExecutionArn string `json:"executionArn"`
		Error        string `json:"error"`
		Cause        string `json:"cause"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	exec, err := b.provider.Executor().StopExecution(in.ExecutionArn, in.Error, in.Cause)
	if err != nil {
		return nil, workflowError(err)
	}
	return map[string]any{"stopDate": exec.StoppedAt}, nil
}

func (b *WorkflowBinding) listStateMachines(ctx context.Context, input json.RawMessage) (any, error) {
	machines := b.provider.Executor().Machines()
	out := make([]map[string]any, 0, len(machines))
	for _, m := range machines {
		out = append(out, map[string]any{
			"stateMachineArn": m.ARN,
			"name":            m.Name,
			"type":            m.Type,
		})
	}
	return map[string]any{"stateMachines": out}, nil
}

func (b *WorkflowBinding) listExecutions(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		StateMachineArn string `json:"stateMachineArn"`
		StatusFilter    string `json:"statusFilter"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	execs, err := b.provider.Executor().ListExecutions(in.StateMachineArn)
	if err != nil {
		return nil, workflowError(err)
	}
	if in.StatusFilter != "" {
		filtered := execs[:0]
		for _, e := range execs {
			if e.Status == in.StatusFilter {
				filtered = append(filtered, e)
			}
		}
		execs = filtered
	}
	return map[string]any{"executions": execs}, nil
}

func (b *WorkflowBinding) getExecutionHistory(ctx context.Context, input json.RawMessage) (any, error) {
	var in struct {
		ExecutionArn string `json:"executionArn"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, apiErrorf(http.StatusBadRequest, "SerializationException", "%v", err)
	}

	events, err := b.provider.Executor().History(in.ExecutionArn)
	if err != nil {
		return nil, workflowError(err)
	}
	return map[string]any{"events": events}, nil
}
