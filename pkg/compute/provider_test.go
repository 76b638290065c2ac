package compute

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowdev/burrow/pkg/config"
	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/provider"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
}

func startProvider(t *testing.T, defs []config.FunctionDef) *Provider {
	t.Helper()
	p := NewProvider(defs, provider.NewRegistry())
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func TestInvokeInProcess(t *testing.T) {
	p := startProvider(t, []config.FunctionDef{{Name: "echo"}})
	p.RegisterHandler("echo", func(ctx context.Context, payload []byte) ([]byte, error) {
		return payload, nil
	})

	res, err := p.InvokeFunction(context.Background(), "echo", []byte(`{"hi": 1}`))
	require.NoError(t, err)
	assert.Empty(t, res.FunctionError)
	assert.JSONEq(t, `{"hi": 1}`, string(res.Payload))
	assert.NotEmpty(t, res.RequestID)
}

func TestInvokeByARN(t *testing.T) {
	p := startProvider(t, []config.FunctionDef{{Name: "echo"}})
	p.RegisterHandler("echo", func(ctx context.Context, payload []byte) ([]byte, error) {
		return []byte(`"ok"`), nil
	})

	fn, err := p.Function("echo")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:lambda:us-east-1:000000000000:function:echo", fn.ARN)

	res, err := p.InvokeFunction(context.Background(), fn.ARN, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(res.Payload))
}

func TestInvokeUnknownFunction(t *testing.T) {
	p := startProvider(t, nil)
	_, err := p.InvokeFunction(context.Background(), "ghost", []byte(`{}`))
	assert.ErrorIs(t, err, ErrFunctionNotFound)
}

func TestInvokeWithoutHandler(t *testing.T) {
	p := startProvider(t, []config.FunctionDef{{Name: "hollow"}})
	_, err := p.InvokeFunction(context.Background(), "hollow", []byte(`{}`))
	assert.Error(t, err)
}

func TestHandlerErrorBecomesResult(t *testing.T) {
	p := startProvider(t, []config.FunctionDef{{Name: "typed"}, {Name: "plain"}})
	p.RegisterHandler("typed", func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, &HandlerError{Type: "OrderMissing", Message: "no such order"}
	})
	p.RegisterHandler("plain", func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, errors.New("exploded")
	})

	res, err := p.InvokeFunction(context.Background(), "typed", []byte(`{}`))
	require.NoError(t, err, "a handler failure is a result, not an invoke error")
	assert.Equal(t, "Unhandled", res.FunctionError)
	var doc struct {
		ErrorType    string `json:"errorType"`
		ErrorMessage string `json:"errorMessage"`
	}
	require.NoError(t, json.Unmarshal(res.Payload, &doc))
	assert.Equal(t, "OrderMissing", doc.ErrorType)
	assert.Equal(t, "no such order", doc.ErrorMessage)

	res, err = p.InvokeFunction(context.Background(), "plain", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "Unhandled", res.FunctionError)
	require.NoError(t, json.Unmarshal(res.Payload, &doc))
	assert.Equal(t, "Unhandled", doc.ErrorType)
}

func TestInvokeContextMetadata(t *testing.T) {
	p := startProvider(t, []config.FunctionDef{{
		Name:        "introspect",
		MemoryMB:    256,
		TimeoutSec:  5,
		Environment: map[string]string{"STAGE": "dev"},
	}})
	p.RegisterHandler("introspect", func(ctx context.Context, payload []byte) ([]byte, error) {
		ic, ok := FromContext(ctx)
		require.True(t, ok)
		assert.Equal(t, "introspect", ic.FunctionName)
		assert.Equal(t, 256, ic.MemoryMB)
		assert.Equal(t, "dev", ic.Env["STAGE"])
		assert.NotEmpty(t, ic.RequestID)
		assert.False(t, ic.Deadline.IsZero())
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return []byte(`{}`), nil
	})

	_, err := p.InvokeFunction(context.Background(), "introspect", []byte(`{}`))
	require.NoError(t, err)
}

func TestFunctionDefaults(t *testing.T) {
	p := startProvider(t, []config.FunctionDef{{Name: "bare"}})
	fn, err := p.Function("bare")
	require.NoError(t, err)
	assert.Equal(t, RuntimeInProcess, fn.Runtime)
	assert.Equal(t, defaultMemoryMB, fn.MemoryMB)
	assert.Equal(t, defaultTimeout, fn.Timeout)
}

func TestHTTPRuntimeNeedsEndpoint(t *testing.T) {
	p := NewProvider([]config.FunctionDef{{Name: "remote", Runtime: "http"}}, provider.NewRegistry())
	assert.Error(t, p.Start(context.Background()))
}

func TestInvokeHTTPRuntime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != invokePath {
			w.WriteHeader(http.StatusOK) // readiness probe
			return
		}
		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]any{"echoed": in["v"]})
	}))
	defer srv.Close()

	p := startProvider(t, []config.FunctionDef{{Name: "remote", Runtime: "http", Endpoint: srv.URL}})

	res, err := p.InvokeFunction(context.Background(), "remote", []byte(`{"v": 41}`))
	require.NoError(t, err)
	assert.Empty(t, res.FunctionError)
	assert.JSONEq(t, `{"echoed": 41}`, string(res.Payload))
}

func TestInvokeHTTPRuntimeFunctionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != invokePath {
			return
		}
		w.Header().Set(functionErrorHeader, "Unhandled")
		_, _ = w.Write([]byte(`{"errorType": "ValueError", "errorMessage": "bad input"}`))
	}))
	defer srv.Close()

	p := startProvider(t, []config.FunctionDef{{Name: "remote", Runtime: "http", Endpoint: srv.URL}})

	res, err := p.InvokeFunction(context.Background(), "remote", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "Unhandled", res.FunctionError)
	assert.Contains(t, string(res.Payload), "ValueError")
}

func TestFunctionNamesSorted(t *testing.T) {
	p := startProvider(t, []config.FunctionDef{{Name: "zeta"}, {Name: "alpha"}})
	assert.Equal(t, []string{"alpha", "zeta"}, p.FunctionNames())
}
