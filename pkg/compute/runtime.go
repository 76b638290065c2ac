package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// invokePath is the container-runtime invocation endpoint shape.
const invokePath = "/2015-03-31/functions/function/invocations"

// functionErrorHeader marks a response whose payload is a handler error.
const functionErrorHeader = "X-Amz-Function-Error"

// runtimeResult is the substrate-independent invocation outcome.
// FunctionError is non-empty when the handler itself failed; payload then
// carries the error document.
type runtimeResult struct {
	Payload       []byte
	FunctionError string
}

// errorDocument is the payload shape of a failed invocation.
type errorDocument struct {
	ErrorType    string `json:"errorType"`
	ErrorMessage string `json:"errorMessage"`
}

func errorPayload(errType, msg string) []byte {
	b, _ := json.Marshal(errorDocument{ErrorType: errType, ErrorMessage: msg})
	return b
}

// inprocessRuntime runs registered Go handlers.
type inprocessRuntime struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func newInprocessRuntime() *inprocessRuntime {
	return &inprocessRuntime{handlers: map[string]Handler{}}
}

func (r *inprocessRuntime) register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *inprocessRuntime) invoke(ctx context.Context, fn *Function, payload []byte) (*runtimeResult, error) {
	r.mu.RLock()
	h := r.handlers[fn.Name]
	r.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("function %s has no registered handler", fn.Name)
	}

	out, err := h(ctx, payload)
	if err != nil {
		var herr *HandlerError
		if errors.As(err, &herr) {
			return &runtimeResult{
				Payload:       errorPayload(herr.Type, herr.Message),
				FunctionError: "Unhandled",
			}, nil
		}
		return &runtimeResult{
			Payload:       errorPayload("Unhandled", err.Error()),
			FunctionError: "Unhandled",
		}, nil
	}
	if out == nil {
		out = []byte("null")
	}
	return &runtimeResult{Payload: out}, nil
}

// httpRuntime posts payloads to a function container's invocation
// endpoint. The first invoke waits for the endpoint to come up with
// bounded exponential backoff.
type httpRuntime struct {
	client *http.Client

	mu    sync.Mutex
	ready map[string]bool
}

func newHTTPRuntime() *httpRuntime {
	return &httpRuntime{
		client: &http.Client{},
		ready:  map[string]bool{},
	}
}

func (r *httpRuntime) invoke(ctx context.Context, fn *Function, payload []byte) (*runtimeResult, error) {
	if err := r.waitReady(ctx, fn); err != nil {
		return nil, fmt.Errorf("function %s endpoint not reachable: %w", fn.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fn.Endpoint+invokePath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("function %s runtime returned %d", fn.Name, resp.StatusCode)
	}
	return &runtimeResult{
		Payload:       body,
		FunctionError: resp.Header.Get(functionErrorHeader),
	}, nil
}

// waitReady probes the endpoint until it answers anything at all.
func (r *httpRuntime) waitReady(ctx context.Context, fn *Function) error {
	r.mu.Lock()
	if r.ready[fn.Name] {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = 15 * time.Second

	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fn.Endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.ready[fn.Name] = true
	r.mu.Unlock()
	return nil
}
