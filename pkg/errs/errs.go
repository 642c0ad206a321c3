// Package errs provides the mesh engine's error-kind taxonomy. It builds on
// the same "wrap with context" idea as pkg/utils.Wrap but attaches a stable
// Kind so callers can branch with errors.Is instead of matching strings.
package errs

import "fmt"

// Kind identifies one of the error categories the core surfaces, per the
// error handling design: economic, protocol, identity/auth, storage,
// network, execution, scheduling, internal.
type Kind string

const (
	// Economic
	KindInsufficientMana Kind = "insufficient_mana"
	KindCapacityExceeded Kind = "capacity_exceeded"

	// Protocol
	KindSignatureError       Kind = "signature_error"
	KindInvalidSpec          Kind = "invalid_spec"
	KindInvalidJobState      Kind = "invalid_job_state"
	KindInvalidSystemAPICall Kind = "invalid_system_api_call"
	KindSerialization        Kind = "serialization"

	// Identity / auth
	KindPermissionDenied Kind = "permission_denied"
	KindDidUnresolvable  Kind = "did_unresolvable"

	// Storage
	KindDagOperationFailed Kind = "dag_operation_failed"
	KindIntegrity          Kind = "integrity"
	KindStorageError       Kind = "storage_error"

	// Network
	KindPeerNotFound          Kind = "peer_not_found"
	KindMessageSendError      Kind = "message_send_error"
	KindNetworkConnectionErr  Kind = "network_connection_error"
	KindNetworkUnhealthy      Kind = "network_unhealthy"

	// Execution
	KindExecutionTimeout    Kind = "execution_timeout"
	KindWasmExecutionError  Kind = "wasm_execution_error"
	KindResourceLimitExceed Kind = "resource_limit_exceeded"
	KindProcessingFailure   Kind = "processing_failure"

	// Scheduling
	KindNoSuitableExecutor      Kind = "no_suitable_executor"
	KindMissingOrInvalidReceipt Kind = "missing_or_invalid_receipt"
	KindUnknownJob              Kind = "unknown_job"

	// Internal
	KindInternal       Kind = "internal"
	KindNotImplemented Kind = "not_implemented"
)

// Error wraps an underlying error with a Kind and the operation that
// produced it. It is the mesh engine's standard error type.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can do errors.Is(err, errs.E(KindInsufficientMana)).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error with the given kind and operation, wrapping err
// (which may be nil).
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// E is a bare sentinel of the given kind, suitable as the target of
// errors.Is(err, errs.E(KindInsufficientMana)).
func E(kind Kind) *Error { return &Error{Kind: kind} }

// OfKind reports whether err (or something it wraps) carries the given Kind.
func OfKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
