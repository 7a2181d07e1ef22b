package waitinglist

import (
	"fmt"

	"tickloom/internal/id"
	"tickloom/internal/wire"
)

// QuorumCallback aggregates per-origin outcomes of one broadcast round
// against N expected replies and a success threshold Q = floor(N/2)+1.
// It completes exactly once: as soon as enough successes have arrived
// to reach quorum, as soon as enough failures have arrived to make
// quorum unreachable, or via Expire if the waiting list retires it
// first. Every path after completion is a silent no-op — callers still
// need to remove the owning waiting-list entry themselves.
type QuorumCallback[T any] struct {
	n         int
	q         int
	successes map[string]T
	failures  map[string]error
	onSuccess func(map[string]T)
	onFailure func(error)
	done      bool
}

// NewQuorumCallback returns a callback expecting up to n responses,
// completing successfully once q of them succeed.
func NewQuorumCallback[T any](n, q int, onSuccess func(map[string]T), onFailure func(error)) *QuorumCallback[T] {
	return &QuorumCallback[T]{
		n:         n,
		q:         q,
		successes: make(map[string]T),
		failures:  make(map[string]error),
		onSuccess: onSuccess,
		onFailure: onFailure,
	}
}

// DeliverSuccess records a successful response val from the given
// origin and re-evaluates completion.
func (q *QuorumCallback[T]) DeliverSuccess(from id.ProcessID, val T) {
	if q.done {
		return
	}
	delete(q.failures, from.Name)
	q.successes[from.Name] = val
	q.reevaluate()
}

// DeliverFailure records a failed response from the given origin and
// re-evaluates completion.
func (q *QuorumCallback[T]) DeliverFailure(from id.ProcessID, err error) {
	if q.done {
		return
	}
	delete(q.successes, from.Name)
	q.failures[from.Name] = err
	q.reevaluate()
}

func (q *QuorumCallback[T]) reevaluate() {
	if len(q.successes) >= q.q {
		q.done = true
		q.onSuccess(q.snapshot())
		return
	}
	if len(q.failures) > q.n-q.q {
		q.done = true
		if q.onFailure != nil {
			q.onFailure(wire.ErrQuorumNotReached)
		}
	}
}

// Expire completes the callback with wire.ErrQuorumNotReached wrapping
// err if it has not already reached quorum. Wired as the Expire
// callback on every waiting-list entry belonging to this round, so
// whichever entry retires first — by timeout or explicit cancellation —
// carries its own cause through: errors.Is matches both
// ErrQuorumNotReached and that cause.
func (q *QuorumCallback[T]) Expire(err error) {
	if q.done {
		return
	}
	q.done = true
	if q.onFailure != nil {
		q.onFailure(fmt.Errorf("%w: %w", wire.ErrQuorumNotReached, err))
	}
}

// Done reports whether the callback has already completed.
func (q *QuorumCallback[T]) Done() bool {
	return q.done
}

func (q *QuorumCallback[T]) snapshot() map[string]T {
	out := make(map[string]T, len(q.successes))
	for k, v := range q.successes {
		out[k] = v
	}
	return out
}

// Quorum computes the minimum number of acks needed out of n replicas:
// floor(n/2)+1.
func Quorum(n int) int {
	return n/2 + 1
}
