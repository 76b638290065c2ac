package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// Error codes raised by the interpreter.
const (
	ErrAll          = "States.ALL"
	ErrTaskFailed   = "States.TaskFailed"
	ErrTimeout      = "States.Timeout"
	ErrBranchFailed = "States.BranchFailed"
	ErrRuntime      = "States.Runtime"
)

// TaskInvoker is the compute bridge: resolve a task Resource and
// deliver the effective input.
type TaskInvoker interface {
	InvokeTask(ctx context.Context, resource string, input any) (any, error)
}

// StateObserver sees each state transition; the executor uses it to
// build execution history.
type StateObserver func(state string, stateType string, output any, err error)

// Interpreter runs parsed state machines.
type Interpreter struct {
	invoker TaskInvoker
	maxWait time.Duration
}

// NewInterpreter builds an interpreter. maxWait caps every Wait state;
// zero means the 5 minute default.
func NewInterpreter(invoker TaskInvoker, maxWait time.Duration) *Interpreter {
	if maxWait <= 0 {
		maxWait = 5 * time.Minute
	}
	return &Interpreter{invoker: invoker, maxWait: maxWait}
}

// Run executes a machine to termination and returns the final output.
// execCtx is the workflow context object visible to $$.  paths.
// observer may be nil.
func (it *Interpreter) Run(ctx context.Context, sm *StateMachine, input any, execCtx map[string]any, observer StateObserver) (any, error) {
	current := sm.StartAt
	stateInput := input

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st, ok := sm.States[current]
		if !ok {
			return nil, &stateError{Code: ErrRuntime, Cause: fmt.Sprintf("unknown state %q", current)}
		}

		output, next, err := it.execState(ctx, sm, current, st, stateInput, execCtx)
		if observer != nil {
			observer(current, st.Type, output, err)
		}
		if err != nil {
			return nil, err
		}
		if next == "" {
			return output, nil
		}
		current = next
		stateInput = output
	}
}

// execState runs one state. An empty next means the machine
// terminated.
func (it *Interpreter) execState(ctx context.Context, sm *StateMachine, name string, st *State, input any, execCtx map[string]any) (output any, next string, err error) {
	switch st.Type {
	case StateTask:
		output, err = it.execTask(ctx, st, input, execCtx)
		if err != nil {
			return nil, "", err
		}
		// a caught error may have redirected the flow
		if redirect, ok := output.(*catchRedirect); ok {
			return redirect.output, redirect.next, nil
		}
		return output, nextOrEnd(st), nil

	case StateChoice:
		effective, err := applyInputPath(input, st.InputPath)
		if err != nil {
			return nil, "", &stateError{Code: ErrRuntime, Cause: err.Error()}
		}
		next, err := evalChoice(st, effective)
		if err != nil {
			return nil, "", err
		}
		out, err := applyOutputPath(effective, st.OutputPath)
		if err != nil {
			return nil, "", &stateError{Code: ErrRuntime, Cause: err.Error()}
		}
		return out, next, nil

	case StateWait:
		if err := it.execWait(ctx, st, input); err != nil {
			return nil, "", err
		}
		return input, nextOrEnd(st), nil

	case StateParallel:
		output, err = it.execParallel(ctx, st, input, execCtx)
		if err != nil {
			return nil, "", err
		}
		return output, nextOrEnd(st), nil

	case StateMap:
		output, err = it.execMap(ctx, st, input, execCtx)
		if err != nil {
			return nil, "", err
		}
		return output, nextOrEnd(st), nil

	case StatePass:
		output, err = it.execPass(st, input, execCtx)
		if err != nil {
			return nil, "", err
		}
		return output, nextOrEnd(st), nil

	case StateSucceed:
		out, err := applyOutputPath(input, st.OutputPath)
		if err != nil {
			return nil, "", &stateError{Code: ErrRuntime, Cause: err.Error()}
		}
		return out, "", nil

	case StateFail:
		code := st.Error
		if code == "" {
			code = "States.Failed"
		}
		return nil, "", &stateError{Code: code, Cause: st.Cause}
	}
	return nil, "", &stateError{Code: ErrRuntime, Cause: fmt.Sprintf("state %q has unknown type %q", name, st.Type)}
}

func nextOrEnd(st *State) string {
	if st.End {
		return ""
	}
	return st.Next
}

// catchRedirect carries a caught error's landing state through
// execTask's return.
type catchRedirect struct {
	next   string
	output any
}

// execTask applies the input pipeline, invokes with retry, and applies
// the output pipeline. A caught error returns a catchRedirect.
func (it *Interpreter) execTask(ctx context.Context, st *State, input any, execCtx map[string]any) (any, error) {
	effective, err := applyInputPath(input, st.InputPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	if st.Parameters != nil {
		effective, err = applyParameters(st.Parameters, effective, execCtx)
		if err != nil {
			return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
		}
	}

	result, invokeErr := it.invokeWithRetry(ctx, st, effective)
	if invokeErr != nil {
		serr := asStateError(invokeErr)
		for _, c := range st.Catch {
			if !errorMatches(serr.Code, c.ErrorEquals) {
				continue
			}
			errObj := map[string]any{"Error": serr.Code, "Cause": serr.Cause}
			rp := c.ResultPath
			if !rp.set {
				rp = Path{set: true, val: "$.Error"}
			}
			landed, err := applyResultPath(input, errObj, rp)
			if err != nil {
				return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
			}
			return &catchRedirect{next: c.Next, output: landed}, nil
		}
		return nil, serr
	}

	if st.ResultSelector != nil {
		result, err = applyParameters(st.ResultSelector, result, execCtx)
		if err != nil {
			return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
		}
	}
	out, err := applyResultPath(input, result, st.ResultPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	out, err = applyOutputPath(out, st.OutputPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	return out, nil
}

// invokeWithRetry applies the state's retry rules: wait
// interval * rate^attempt between matching failures.
func (it *Interpreter) invokeWithRetry(ctx context.Context, st *State, input any) (any, error) {
	attempts := make([]int, len(st.Retry))

	for {
		invokeCtx := ctx
		var cancel context.CancelFunc
		if st.TimeoutSeconds > 0 {
			invokeCtx, cancel = context.WithTimeout(ctx, time.Duration(st.TimeoutSeconds)*time.Second)
		}
		result, err := it.invoker.InvokeTask(invokeCtx, st.Resource, input)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = &stateError{Code: ErrTimeout, Cause: "task timed out"}
		}
		serr := asStateError(err)

		retried := false
		for i, r := range st.Retry {
			if !errorMatches(serr.Code, r.ErrorEquals) {
				continue
			}
			maxAttempts := 3
			if r.MaxAttempts != nil {
				maxAttempts = *r.MaxAttempts
			}
			if attempts[i] >= maxAttempts {
				break
			}
			interval := r.IntervalSeconds
			if interval <= 0 {
				interval = 1.0
			}
			rate := r.BackoffRate
			if rate <= 0 {
				rate = 2.0
			}
			delay := time.Duration(interval * math.Pow(rate, float64(attempts[i])) * float64(time.Second))
			attempts[i]++
			retried = true

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			break
		}
		if !retried {
			return nil, serr
		}
	}
}

func (it *Interpreter) execWait(ctx context.Context, st *State, input any) error {
	var d time.Duration
	switch {
	case st.Seconds != nil:
		d = time.Duration(*st.Seconds * float64(time.Second))
	case st.SecondsPath != "":
		v, err := resolvePath(input, st.SecondsPath)
		if err != nil {
			return &stateError{Code: ErrRuntime, Cause: err.Error()}
		}
		secs, ok := v.(float64)
		if !ok {
			return &stateError{Code: ErrRuntime, Cause: "SecondsPath must select a number"}
		}
		d = time.Duration(secs * float64(time.Second))
	case st.Timestamp != "":
		ts, err := time.Parse(time.RFC3339, st.Timestamp)
		if err != nil {
			return &stateError{Code: ErrRuntime, Cause: fmt.Sprintf("invalid Timestamp: %v", err)}
		}
		d = time.Until(ts)
	case st.TimestampPath != "":
		v, err := resolvePath(input, st.TimestampPath)
		if err != nil {
			return &stateError{Code: ErrRuntime, Cause: err.Error()}
		}
		s, ok := v.(string)
		if !ok {
			return &stateError{Code: ErrRuntime, Cause: "TimestampPath must select a string"}
		}
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return &stateError{Code: ErrRuntime, Cause: fmt.Sprintf("invalid timestamp at TimestampPath: %v", err)}
		}
		d = time.Until(ts)
	}

	if d <= 0 {
		return nil
	}
	if d > it.maxWait {
		d = it.maxWait
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execParallel runs every branch concurrently on the shared input and
// collects ordered outputs. The first failure cancels the rest.
func (it *Interpreter) execParallel(ctx context.Context, st *State, input any, execCtx map[string]any) (any, error) {
	effective, err := applyInputPath(input, st.InputPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	if st.Parameters != nil {
		effective, err = applyParameters(st.Parameters, effective, execCtx)
		if err != nil {
			return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
		}
	}

	outputs := make([]any, len(st.Branches))
	g, gctx := errgroup.WithContext(ctx)
	for i, branch := range st.Branches {
		i, branch := i, branch
		g.Go(func() error {
			out, err := it.Run(gctx, branch, effective, execCtx, nil)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		serr := asStateError(err)
		return nil, &stateError{Code: ErrBranchFailed, Cause: serr.Error()}
	}

	out, err := applyResultPath(input, anySlice(outputs), st.ResultPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	out, err = applyOutputPath(out, st.OutputPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	return out, nil
}

// execMap runs the iterator over each item of ItemsPath, capped at
// MaxConcurrency, collecting outputs in input order.
func (it *Interpreter) execMap(ctx context.Context, st *State, input any, execCtx map[string]any) (any, error) {
	effective, err := applyInputPath(input, st.InputPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}

	itemsPath := st.ItemsPath
	if itemsPath == "" {
		itemsPath = "$"
	}
	itemsVal, err := resolvePath(effective, itemsPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	items, ok := itemsVal.([]any)
	if !ok {
		return nil, &stateError{Code: ErrRuntime, Cause: "ItemsPath must select an array"}
	}

	outputs := make([]any, len(items))
	g, gctx := errgroup.WithContext(ctx)
	if st.MaxConcurrency > 0 {
		g.SetLimit(st.MaxConcurrency)
	}
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			itemInput := item
			itemCtx := mapContext(execCtx, i, item)
			if st.Parameters != nil {
				var err error
				itemInput, err = applyParameters(st.Parameters, effective, itemCtx)
				if err != nil {
					return &stateError{Code: ErrRuntime, Cause: err.Error()}
				}
			}
			out, err := it.Run(gctx, st.Iterator, itemInput, itemCtx, nil)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, asStateError(err)
	}

	out, err := applyResultPath(input, anySlice(outputs), st.ResultPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	out, err = applyOutputPath(out, st.OutputPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	return out, nil
}

// mapContext extends the context object with the per-item Map entry.
func mapContext(execCtx map[string]any, index int, item any) map[string]any {
	out := make(map[string]any, len(execCtx)+1)
	for k, v := range execCtx {
		out[k] = v
	}
	out["Map"] = map[string]any{
		"Item": map[string]any{
			"Index": float64(index),
			"Value": item,
		},
	}
	return out
}

func (it *Interpreter) execPass(st *State, input any, execCtx map[string]any) (any, error) {
	effective, err := applyInputPath(input, st.InputPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	if st.Parameters != nil {
		effective, err = applyParameters(st.Parameters, effective, execCtx)
		if err != nil {
			return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
		}
	}

	result := effective
	if st.Result != nil {
		result = st.Result
	}
	out, err := applyResultPath(input, result, st.ResultPath)
	if err != nil {
		return nil, &stateError{Code: ErrRuntime, Cause: err.Error()}
	}
	return applyOutputPath(out, st.OutputPath)
}

func anySlice(in []any) []any { return in }

// errorMatches applies retry/catch matching; States.ALL matches every
// code.
func errorMatches(code string, patterns []string) bool {
	for _, p := range patterns {
		if p == ErrAll || p == code {
			return true
		}
	}
	return false
}

// asStateError coerces any error into a coded one.
func asStateError(err error) *stateError {
	var serr *stateError
	if errors.As(err, &serr) {
		return serr
	}
	return &stateError{Code: ErrTaskFailed, Cause: err.Error()}
}
