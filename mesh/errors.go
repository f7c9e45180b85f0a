package mesh

import "fmt"

// ErrorKind classifies job-lifecycle failures per the failure semantics
// table.
type ErrorKind string

const (
	ErrInsufficientMana   ErrorKind = "insufficient_mana"
	ErrPolicyDenied       ErrorKind = "policy_denied"
	ErrIntegrity          ErrorKind = "integrity_error"
	ErrMissingParent      ErrorKind = "missing_parent"
	ErrSignature          ErrorKind = "signature_error"
	ErrNotFound           ErrorKind = "not_found"
	ErrTimeout            ErrorKind = "timeout"
	ErrConflict           ErrorKind = "conflict"
	ErrNetworkUnavailable ErrorKind = "network_unavailable"
	ErrStorageUnavailable ErrorKind = "storage_unavailable"
	ErrInternal           ErrorKind = "internal"
)

// JobError is the typed error surfaced to callers of Submit/Cancel and
// recorded as a JobRecord's FailureReason. Only a subset of kinds are ever
// surfaced synchronously; the rest are logged and handled
// internally by the owning job goroutine.
type JobError struct {
	Kind   ErrorKind
	Reason string
}

func (e *JobError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Reason) }

func newJobError(kind ErrorKind, reason string) *JobError {
	return &JobError{Kind: kind, Reason: reason}
}
