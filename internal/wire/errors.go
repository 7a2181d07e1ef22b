// Package wire holds the protocol-level value types and error kinds
// shared by every core package: the versioned register value, its
// last-writer-wins comparison rule, and the named error kinds every
// core package surfaces.
package wire

import "errors"

// Error kinds. These are sentinel values, not a hierarchy of custom
// types: every core package that needs to surface one of them wraps it
// with fmt.Errorf("...: %w", ErrX) and callers compare with errors.Is.
var (
	// ErrInvalidArgument marks malformed input at an API boundary. Never
	// retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageFailed marks a transient or permanent backing-store
	// failure, whether injected by the storage engine's failure-rate
	// sampling or raised by the real backend.
	ErrStorageFailed = errors.New("storage failed")

	// ErrTimedOut marks a waiting-list deadline that passed before a
	// response arrived.
	ErrTimedOut = errors.New("timed out")

	// ErrQuorumNotReached marks a quorum callback that could not gather
	// enough successes before exhausting its possible responses or
	// timing out.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrCancelled marks an explicitly cancelled waiting-list entry.
	ErrCancelled = errors.New("cancelled")

	// ErrNotInitialised marks a message received before a replica's
	// on_init future resolved.
	ErrNotInitialised = errors.New("not initialised")

	// ErrUnknownHandler marks a message whose type has no registered
	// handler.
	ErrUnknownHandler = errors.New("unknown handler")

	// ErrClosed marks an operation submitted to a storage engine that
	// has already been shut down.
	ErrClosed = errors.New("closed")
)
