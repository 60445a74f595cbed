package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAgencyNotFound = errors.New("agency not found")
	ErrRunInProgress  = errors.New("sync already in progress")
)

// ErrorKind classifies an upstream failure for the retry policy.
type ErrorKind int

const (
	// Transient covers network errors, timeouts, 429 and 5xx. Retryable.
	Transient ErrorKind = iota
	// Permanent covers 401/403/404: the key is invalid or revoked.
	Permanent
	// Malformed means the body was not an array of records.
	Malformed
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// UpstreamError is returned by the upstream client for every failed call.
type UpstreamError struct {
	Kind   ErrorKind
	Op     string // agencies|properties
	Status int    // HTTP status, 0 when no response was received
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream %s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// KindOf reports the kind of an upstream error anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind, true
	}
	return 0, false
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	k, ok := KindOf(err)
	return ok && k == Permanent
}
