// Package taxonomy defines the error categories shared across the
// orchestrator core, so that every component returns errors a caller can
// classify with errors.Is/errors.As instead of matching on message text.
package taxonomy

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure.
type Kind int

const (
	// Unknown is the last-resort category.
	Unknown Kind = iota
	Io
	FfmpegNotFound
	FfmpegFailed
	InvalidInput
	InvalidOutput
	JobNotFound
	JobAlreadyExists
	InvalidConfig
	WorkerPoolError
	Serialization
	Platform
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Io:
		return "io"
	case FfmpegNotFound:
		return "ffmpeg_not_found"
	case FfmpegFailed:
		return "ffmpeg_failed"
	case InvalidInput:
		return "invalid_input"
	case InvalidOutput:
		return "invalid_output"
	case JobNotFound:
		return "job_not_found"
	case JobAlreadyExists:
		return "job_already_exists"
	case InvalidConfig:
		return "invalid_config"
	case WorkerPoolError:
		return "worker_pool_error"
	case Serialization:
		return "serialization"
	case Platform:
		return "platform"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the taxonomy's sum type: a Kind plus a message and an optional
// wrapped cause. Callers compare Kinds with errors.As, not string matching.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target shares this error's Kind, so errors.Is(err,
// taxonomy.New(taxonomy.JobNotFound, "")) matches any JobNotFound error
// regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinels for errors.Is comparisons where no message/cause is needed.
var (
	ErrJobNotFound      = &Error{Kind: JobNotFound}
	ErrJobAlreadyExists = &Error{Kind: JobAlreadyExists}
	ErrWorkerPoolError  = &Error{Kind: WorkerPoolError}
	ErrCancelled        = &Error{Kind: Cancelled}
	ErrFfmpegNotFound   = &Error{Kind: FfmpegNotFound}
)

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *Error, defaulting to Unknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
