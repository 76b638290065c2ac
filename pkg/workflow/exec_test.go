package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineDoc = `{
	"StartAt": "Step1",
	"States": {
		"Step1": {"Type": "Task", "Resource": "step1", "Next": "Step2"},
		"Step2": {"Type": "Pass", "End": true}
	}
}`

func TestExecutorRegisterAndLookup(t *testing.T) {
	x := NewExecutor(newStubInvoker(), time.Second)

	m, err := x.Register("pipeline", "", []byte(pipelineDoc))
	require.NoError(t, err)
	assert.Equal(t, TypeStandard, m.Type, "type defaults to standard")
	assert.Equal(t, "arn:aws:states:us-east-1:000000000000:stateMachine:pipeline", m.ARN)

	byName, err := x.Machine("pipeline")
	require.NoError(t, err)
	byARN, err := x.Machine(m.ARN)
	require.NoError(t, err)
	assert.Same(t, byName, byARN)

	_, err = x.Machine("ghost")
	assert.ErrorIs(t, err, ErrMachineNotFound)

	_, err = x.Register("broken", "", []byte(`{"StartAt": "X"}`))
	assert.Error(t, err)
}

func TestSyncExecution(t *testing.T) {
	inv := newStubInvoker()
	inv.on("step1", func(ctx context.Context, input any) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	x := NewExecutor(inv, time.Second)
	_, err := x.Register("pipeline", TypeExpress, []byte(pipelineDoc))
	require.NoError(t, err)

	snap, err := x.StartSyncExecution(context.Background(), "pipeline", "run-1", json.RawMessage(`{"seed": 1}`))
	require.NoError(t, err)

	assert.Equal(t, StatusSucceeded, snap.Status)
	assert.JSONEq(t, `{"ok": true}`, string(snap.Output))
	assert.True(t, strings.HasSuffix(snap.ARN, ":execution:pipeline:run-1"))
	require.NotNil(t, snap.StoppedAt)

	require.Len(t, snap.History, 2)
	assert.Equal(t, "Step1", snap.History[0].State)
	assert.Equal(t, StateTask, snap.History[0].StateType)
	assert.JSONEq(t, `{"ok": true}`, string(snap.History[0].Output), "each history event carries the state output")
	assert.Equal(t, "Step2", snap.History[1].State)
	assert.JSONEq(t, `{"ok": true}`, string(snap.History[1].Output))
}

func TestSyncExecutionFailure(t *testing.T) {
	inv := newStubInvoker()
	inv.on("step1", func(ctx context.Context, input any) (any, error) {
		return nil, &stateError{Code: "Kaput", Cause: "no luck"}
	})

	x := NewExecutor(inv, time.Second)
	_, err := x.Register("pipeline", TypeExpress, []byte(pipelineDoc))
	require.NoError(t, err)

	snap, err := x.StartSyncExecution(context.Background(), "pipeline", "", json.RawMessage(`{}`))
	require.NoError(t, err, "a failed run is still a successful API call")
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "Kaput", snap.Error)
	assert.Equal(t, "no luck", snap.Cause)
	require.Len(t, snap.History, 1)
	assert.Contains(t, snap.History[0].Error, "Kaput")
}

func TestAsyncExecution(t *testing.T) {
	inv := newStubInvoker()
	release := make(chan struct{})
	inv.on("step1", func(ctx context.Context, input any) (any, error) {
		<-release
		return "later", nil
	})

	x := NewExecutor(inv, time.Second)
	_, err := x.Register("pipeline", TypeStandard, []byte(pipelineDoc))
	require.NoError(t, err)

	snap, err := x.StartExecution("pipeline", "bg", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status, "caller gets the ARN before the run finishes")

	close(release)
	require.Eventually(t, func() bool {
		got, err := x.DescribeExecution(snap.ARN)
		return err == nil && got.Status == StatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)

	hist, err := x.History(snap.ARN)
	require.NoError(t, err)
	assert.Len(t, hist, 2)

	require.NoError(t, x.Drain(context.Background()))
}

func TestExecutionContextObject(t *testing.T) {
	inv := newStubInvoker()
	inv.on("step1", func(ctx context.Context, input any) (any, error) { return input, nil })

	x := NewExecutor(inv, time.Second)
	_, err := x.Register("ctx-machine", TypeExpress, []byte(`{
		"StartAt": "Step1",
		"States": {
			"Step1": {
				"Type": "Task",
				"Resource": "step1",
				"Parameters": {"exec.$": "$$.Execution.Name", "machine.$": "$$.StateMachine.Name"},
				"End": true
			}
		}
	}`))
	require.NoError(t, err)

	snap, err := x.StartSyncExecution(context.Background(), "ctx-machine", "named-run", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, snap.Status)
	assert.JSONEq(t, `{"exec": "named-run", "machine": "ctx-machine"}`, string(snap.Output))
}

func TestStopExecutionAborts(t *testing.T) {
	x := NewExecutor(newStubInvoker(), time.Hour)
	_, err := x.Register("slow", TypeStandard, []byte(`{
		"StartAt": "Hold",
		"States": {
			"Hold": {"Type": "Wait", "Seconds": 3600, "Next": "Done"},
			"Done": {"Type": "Succeed"}
		}
	}`))
	require.NoError(t, err)

	snap, err := x.StartExecution("slow", "stuck", json.RawMessage(`{}`))
	require.NoError(t, err)

	stopped, err := x.StopExecution(snap.ARN, "ManualStop", "operator request")
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, stopped.Status)
	assert.Equal(t, "ManualStop", stopped.Error)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, x.Drain(ctx))

	final, err := x.DescribeExecution(snap.ARN)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, final.Status, "the cancelled run does not overwrite the abort")

	_, err = x.StopExecution("arn:aws:states:us-east-1:000000000000:execution:slow:ghost", "X", "")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestDuplicateExecutionName(t *testing.T) {
	inv := newStubInvoker()
	inv.reply("step1", "ok")

	x := NewExecutor(inv, time.Second)
	_, err := x.Register("pipeline", TypeExpress, []byte(pipelineDoc))
	require.NoError(t, err)

	_, err = x.StartSyncExecution(context.Background(), "pipeline", "same", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = x.StartSyncExecution(context.Background(), "pipeline", "same", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrExecutionExists)
}

func TestListExecutions(t *testing.T) {
	inv := newStubInvoker()
	inv.reply("step1", "ok")

	x := NewExecutor(inv, time.Second)
	_, err := x.Register("pipeline", TypeExpress, []byte(pipelineDoc))
	require.NoError(t, err)
	_, err = x.Register("other", TypeExpress, []byte(pipelineDoc))
	require.NoError(t, err)

	for _, name := range []string{"a", "b"} {
		_, err = x.StartSyncExecution(context.Background(), "pipeline", name, json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	_, err = x.StartSyncExecution(context.Background(), "other", "c", json.RawMessage(`{}`))
	require.NoError(t, err)

	execs, err := x.ListExecutions("pipeline")
	require.NoError(t, err)
	assert.Len(t, execs, 2)
	for _, e := range execs {
		assert.Equal(t, "pipeline", e.MachineName)
	}

	_, err = x.ListExecutions("ghost")
	assert.ErrorIs(t, err, ErrMachineNotFound)
}

func TestMachinesSorted(t *testing.T) {
	x := NewExecutor(newStubInvoker(), time.Second)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := x.Register(name, "", []byte(pipelineDoc))
		require.NoError(t, err)
	}
	var names []string
	for _, m := range x.Machines() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}
