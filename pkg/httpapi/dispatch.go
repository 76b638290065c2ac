package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/burrowdev/burrow/pkg/log"
	"github.com/burrowdev/burrow/pkg/metrics"
)

// ActionHandler decodes one action's input document and returns a
// JSON-marshalable result.
type ActionHandler func(ctx context.Context, input json.RawMessage) (any, error)

// ActionKey addresses one handler in the table.
type ActionKey struct {
	Service string
	Action  string
}

// APIError is a wire-level failure with a service-dialect code. Handlers
// return it (or a sentinel the binding maps to one); anything else
// becomes an InternalFailure.
type APIError struct {
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// apiErrorf builds an APIError with a formatted message.
func apiErrorf(status int, code, format string, args ...any) *APIError {
	return &APIError{Code: code, Message: fmt.Sprintf(format, args...), Status: status}
}

// Table is the action-handler table shared by every wire dialect: the
// dialect only picks how requests decode and responses encode.
type Table struct {
	mu       sync.RWMutex
	handlers map[ActionKey]ActionHandler
	logger   zerolog.Logger
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		handlers: map[ActionKey]ActionHandler{},
		logger:   log.WithComponent("httpapi"),
	}
}

// Register binds a handler. Registering the same (service, action) twice
// panics; the tables are wired once at boot.
func (t *Table) Register(service, action string, h ActionHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := ActionKey{Service: service, Action: action}
	if _, dup := t.handlers[key]; dup {
		panic(fmt.Sprintf("httpapi: duplicate handler for %s.%s", service, action))
	}
	t.handlers[key] = h
}

// Invoke runs the handler for (service, action), counting the request
// and any error by code.
func (t *Table) Invoke(ctx context.Context, service, action string, input json.RawMessage) (any, error) {
	t.mu.RLock()
	h, ok := t.handlers[ActionKey{Service: service, Action: action}]
	t.mu.RUnlock()

	metrics.RequestsTotal.WithLabelValues(service, action).Inc()
	if !ok {
		err := apiErrorf(http.StatusBadRequest, "UnknownOperationException", "unknown action %s for service %s", action, service)
		metrics.RequestErrors.WithLabelValues(service, err.Code).Inc()
		return nil, err
	}

	out, err := h(ctx, input)
	if err != nil {
		apiErr := asAPIError(err)
		metrics.RequestErrors.WithLabelValues(service, apiErr.Code).Inc()
		t.logger.Debug().Str("service", service).Str("action", action).
			Str("code", apiErr.Code).Msg(apiErr.Message)
		return nil, apiErr
	}
	return out, nil
}

// asAPIError normalises a handler error to an APIError; anything the
// binding did not map becomes a 500 InternalFailure.
func asAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{
		Code:    "InternalFailure",
		Message: err.Error(),
		Status:  http.StatusInternalServerError,
	}
}
