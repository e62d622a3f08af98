// Package samerr defines the typed error kinds used across the segmentation
// pipeline so callers can branch on failure class without string matching.
package samerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by where it can be recovered and how it should
// be surfaced (see the error table in the design doc).
type Kind int

const (
	// KindUnknown is never returned by this package; it is the zero value.
	KindUnknown Kind = iota
	// KindGpuUnavailable classifies a missing GPU. Non-fatal; the
	// capability probe reports that case as Available=false rather than
	// returning this kind.
	KindGpuUnavailable
	// KindNetworkError is raised by the model store on a non-2xx response
	// or transport failure.
	KindNetworkError
	// KindCacheError classifies durable-cache failures. The model store
	// does not return it: a failed cache read is a miss and a failed
	// write is logged, so the load falls back to the network.
	KindCacheError
	// KindAborted is raised when a caller-initiated cancellation wins a
	// race with an in-flight download or worker request.
	KindAborted
	// KindNotEncoded is raised by the engine when decode is called before
	// encode for a given image id.
	KindNotEncoded
	// KindInitError is raised when engine or provider initialization
	// fails and no fallback provider succeeded.
	KindInitError
	// KindModelIoError is raised when a session Run call fails inside the
	// engine, surfaced across the worker boundary as an error response.
	KindModelIoError
	// KindSegmentError is raised by the provider when a segment request
	// fails for a reason other than NotEncoded or Aborted.
	KindSegmentError
	// KindInvalidArguments classifies malformed inbound events (e.g. empty
	// prompt points). The orchestrator handles those as a silent no-op
	// and does not return this kind.
	KindInvalidArguments
)

func (k Kind) String() string {
	switch k {
	case KindGpuUnavailable:
		return "GpuUnavailable"
	case KindNetworkError:
		return "NetworkError"
	case KindCacheError:
		return "CacheError"
	case KindAborted:
		return "Aborted"
	case KindNotEncoded:
		return "NotEncoded"
	case KindInitError:
		return "InitError"
	case KindModelIoError:
		return "ModelIoError"
	case KindSegmentError:
		return "SegmentError"
	case KindInvalidArguments:
		return "InvalidArguments"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind and the operation that
// produced it, following the wrap-not-swallow style the pack uses
// throughout (fmt.Errorf with %w).
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

// New builds an *Error for op/kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err is a *Error of the given kind, unwrapping as
// needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
