package docstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTableNotFound reports an operation against an unknown table.
	ErrTableNotFound = errors.New("table not found")

	// ErrTableExists reports a duplicate create.
	ErrTableExists = errors.New("table already exists")

	// ErrIndexNotFound reports a query against an unknown index.
	ErrIndexNotFound = errors.New("index not found")
)

// ValidationError reports a malformed request: missing key attributes,
// key type mismatches, bad expressions.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConditionFailedError reports a condition expression that evaluated
// false against the current item.
type ConditionFailedError struct {
	Table string
}

func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("conditional request failed on table %s", e.Table)
}

// CancellationReason explains one item's part in a cancelled transaction.
type CancellationReason struct {
	Code    string // None | ConditionalCheckFailed | ValidationError
	Message string
}

// TransactionCanceledError carries one reason per transact-write item, in
// request order.
type TransactionCanceledError struct {
	Reasons []CancellationReason
}

func (e *TransactionCanceledError) Error() string {
	codes := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		codes[i] = r.Code
	}
	return fmt.Sprintf("transaction canceled, reasons: [%s]", strings.Join(codes, ", "))
}
