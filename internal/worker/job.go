// Package worker provides the goroutine pools that drain the job queues.
// Each registered queue gets a dedicated polling goroutine and a bounded set
// of executor slots; shared goroutines recover stale claims and prune
// terminal-job history.
//
// Handlers are registered per job kind before calling Pool.Start. A job
// whose kind has no handler is logged and acked: dropping unknown work is a
// deliberate permissive policy, not a silent failure.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Handler is the function executed for each claimed job. A nil return marks
// the job succeeded. A non-nil return triggers retry with exponential
// backoff up to the job's attempt ceiling, unless the error is marked
// permanent with Permanent, in which case the job is acked immediately.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Registry maps job kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register associates h with kind. Must be called before Pool.Start.
func (r *Registry) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Get returns the handler for kind, or (nil, false) if none is registered.
func (r *Registry) Get(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// permanentError marks a failure that retrying cannot fix (malformed
// payload, impossible request). The pool acks instead of rescheduling.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the pool treats it as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked with
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Permanentf is Permanent(fmt.Errorf(...)).
func Permanentf(format string, args ...any) error {
	return Permanent(fmt.Errorf(format, args...))
}
