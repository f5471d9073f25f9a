package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded yet.
	// This can happen during startup when the DB isn't ready.
	ErrTokenStoreNotReady = errors.New("token store not ready")

	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionClosed    = errors.New("session closed")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrTooManySessions  = errors.New("too many browser sessions")

	ErrMountMissing     = errors.New("mount path missing")
	ErrMountNotWritable = errors.New("mount path not writable")
	ErrNoLLMKey         = errors.New("no LLM API key configured")
)

// ErrorKind is a coarse-grained categorization for errors.
type ErrorKind string

const (
	KindMount     ErrorKind = "mount"
	KindConfig    ErrorKind = "config"
	KindProcess   ErrorKind = "process"
	KindTransport ErrorKind = "transport"
)

// OpError wraps an underlying error with operation context and a kind.
type OpError struct {
	Op   string
	Kind ErrorKind
	Path string // Optional: relevant file path
	Err  error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}

	base := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Path != "" {
		base += fmt.Sprintf(" (path=%s)", e.Path)
	}
	if e.Err != nil {
		base += fmt.Sprintf(": %v", e.Err)
	}
	return base
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsKind helps callers classify errors without depending on infra packages.
func IsKind(err error, kind ErrorKind) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind == kind
	}
	return false
}
