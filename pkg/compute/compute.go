package compute

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrFunctionNotFound = errors.New("function not found")

// Handler is an in-process function body. The invocation context is
// available through FromContext.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// HandlerError lets a handler fail with a typed error code that
// retry/catch layers can match on. Plain errors surface as Unhandled.
type HandlerError struct {
	Type    string
	Message string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Function is one registered compute function.
type Function struct {
	Name     string
	ARN      string
	Runtime  string // inprocess or http
	Endpoint string // http runtime only
	MemoryMB int
	Timeout  time.Duration
	Env      map[string]string
}

// Runtime defaults applied when the model leaves them out.
const (
	RuntimeInProcess = "inprocess"
	RuntimeHTTP      = "http"

	defaultMemoryMB = 128
	defaultTimeout  = 30 * time.Second
)

// InvokeContext is the per-invocation metadata carried to handlers.
type InvokeContext struct {
	FunctionName string
	InvokedARN   string
	RequestID    string
	MemoryMB     int
	Deadline     time.Time
	Env          map[string]string
}

type invokeCtxKey struct{}

// FromContext extracts the invocation metadata, if any.
func FromContext(ctx context.Context) (*InvokeContext, bool) {
	ic, ok := ctx.Value(invokeCtxKey{}).(*InvokeContext)
	return ic, ok
}

func withInvokeContext(ctx context.Context, ic *InvokeContext) context.Context {
	return context.WithValue(ctx, invokeCtxKey{}, ic)
}
