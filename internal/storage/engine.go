// Package storage implements the async storage engine: a per-replica
// key-value store whose operations resolve on a future tick, with
// configurable delay and seeded, reproducible failure injection
// layered over a synchronous Backend.
package storage

import (
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"tickloom/internal/clock"
	"tickloom/internal/wire"
)

type opKind int

const (
	opGet opKind = iota
	opPut
	opPutBatch
	opReadRange
	opLowerKey
	opSync
)

func (k opKind) String() string {
	switch k {
	case opGet:
		return "GET"
	case opPut:
		return "PUT"
	case opPutBatch:
		return "BATCH"
	case opReadRange:
		return "RANGE"
	case opLowerKey:
		return "LOWER_KEY"
	case opSync:
		return "SYNC"
	default:
		return "UNKNOWN"
	}
}

// pendingOp is one entry in the engine's completion-ordered min-heap.
// Ties on completionTick are broken by seq, giving stable FIFO
// ordering on submission order.
type pendingOp struct {
	kind           opKind
	completionTick clock.Tick
	seq            uint64
	run            func(failed bool)
}

type opHeap []*pendingOp

func (h opHeap) Len() int { return len(h) }
func (h opHeap) Less(i, j int) bool {
	if h[i].completionTick != h[j].completionTick {
		return h[i].completionTick < h[j].completionTick
	}
	return h[i].seq < h[j].seq
}
func (h opHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *opHeap) Push(x any)   { *h = append(*h, x.(*pendingOp)) }
func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Engine is the async storage engine. It owns a seeded PRNG for
// failure-rate sampling: given an identical seed, identical submission
// order, and identical delay, the sequence of injected failures is
// reproducible, which is what lets internal/simulation re-run a
// scenario byte-for-byte.
type Engine struct {
	backend      Backend
	delay        clock.Tick
	failureRate  float64
	rng          *rand.Rand
	now          clock.Tick
	seq          uint64
	heap         opHeap
	closed       bool
	log          zerolog.Logger
	lastSnapshot clock.Tick
}

// NewEngine wraps backend with delay ticks of latency and a
// failureRate in [0,1) chance of injected failure per drained op,
// seeded for reproducibility.
func NewEngine(backend Backend, delay clock.Tick, failureRate float64, seed uint64, log zerolog.Logger) *Engine {
	return &Engine{
		backend:     backend,
		delay:       delay,
		failureRate: failureRate,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log:         log,
	}
}

func (e *Engine) schedule(kind opKind, run func(failed bool)) {
	e.seq++
	op := &pendingOp{kind: kind, completionTick: e.now + e.delay, seq: e.seq, run: run}
	e.heap = append(e.heap, op)
	// Re-establish heap order with a plain insertion since we only ever
	// append one at a time; container/heap's Push would work equally
	// well but a direct sift-up keeps this hot path allocation-free.
	siftUp(e.heap, len(e.heap)-1)
}

func siftUp(h opHeap, i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.Less(i, parent) {
			return
		}
		h.Swap(i, parent)
		i = parent
	}
}

func siftDown(h opHeap, i, n int) {
	for {
		left := 2*i + 1
		if left >= n {
			return
		}
		smallest := left
		if right := left + 1; right < n && h.Less(right, left) {
			smallest = right
		}
		if !h.Less(smallest, i) {
			return
		}
		h.Swap(i, smallest)
		i = smallest
	}
}

func popMin(h *opHeap) *pendingOp {
	old := *h
	n := len(old)
	old[0], old[n-1] = old[n-1], old[0]
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	siftDown(*h, 0, n-1)
	return item
}

// Tick drains every operation whose completion tick has arrived, in
// heap (completion-tick, then submission) order, sampling the shared
// PRNG once per drained op to decide whether it fails. Operations
// submitted by a completion callback during this drain wait for the
// next Tick.
func (e *Engine) Tick(now clock.Tick) {
	e.now = now
	lastSubmitted := e.seq
	for len(e.heap) > 0 && e.heap[0].completionTick <= now && e.heap[0].seq <= lastSubmitted {
		op := popMin(&e.heap)
		failed := e.rng.Float64() < e.failureRate
		if failed {
			e.log.Debug().Str("op", op.kind.String()).Int64("tick", int64(now)).Msg("storage: injected failure")
		}
		op.run(failed)
	}
}

// Get returns the value stored at key; the future resolves with a nil
// value and a nil error if key is absent.
func (e *Engine) Get(key []byte) *Future[[]byte] {
	f := NewFuture[[]byte]()
	if e.closed {
		f.Resolve(nil, fmt.Errorf("get: %w", wire.ErrClosed))
		return f
	}
	if key == nil {
		f.Resolve(nil, fmt.Errorf("get: %w", wire.ErrInvalidArgument))
		return f
	}
	e.schedule(opGet, func(failed bool) {
		if failed {
			f.Resolve(nil, fmt.Errorf("get %q: %w", key, wire.ErrStorageFailed))
			return
		}
		v, ok, err := e.backend.Get(key)
		if err != nil {
			f.Resolve(nil, fmt.Errorf("get %q: %w (%v)", key, wire.ErrStorageFailed, err))
			return
		}
		if !ok {
			f.Resolve(nil, nil)
			return
		}
		f.Resolve(v, nil)
	})
	return f
}

// Put stores value at key, returning true on success.
func (e *Engine) Put(key, value []byte) *Future[bool] {
	f := NewFuture[bool]()
	if e.closed {
		f.Resolve(false, fmt.Errorf("put: %w", wire.ErrClosed))
		return f
	}
	if key == nil {
		f.Resolve(false, fmt.Errorf("put: %w", wire.ErrInvalidArgument))
		return f
	}
	e.schedule(opPut, func(failed bool) {
		if failed {
			f.Resolve(false, fmt.Errorf("put %q: %w", key, wire.ErrStorageFailed))
			return
		}
		if err := e.backend.Put(key, value); err != nil {
			f.Resolve(false, fmt.Errorf("put %q: %w (%v)", key, wire.ErrStorageFailed, err))
			return
		}
		f.Resolve(true, nil)
	})
	return f
}

// PutBatch atomically-per-call stores every entry in batch.
func (e *Engine) PutBatch(batch []KV) *Future[bool] {
	f := NewFuture[bool]()
	if e.closed {
		f.Resolve(false, fmt.Errorf("put_batch: %w", wire.ErrClosed))
		return f
	}
	for _, kv := range batch {
		if kv.Key == nil {
			f.Resolve(false, fmt.Errorf("put_batch: %w", wire.ErrInvalidArgument))
			return f
		}
	}
	e.schedule(opPutBatch, func(failed bool) {
		if failed {
			f.Resolve(false, fmt.Errorf("put_batch: %w", wire.ErrStorageFailed))
			return
		}
		if err := e.backend.PutBatch(batch); err != nil {
			f.Resolve(false, fmt.Errorf("put_batch: %w (%v)", wire.ErrStorageFailed, err))
			return
		}
		f.Resolve(true, nil)
	})
	return f
}

// ReadRange returns every entry with startInclusive <= key < endExclusive.
func (e *Engine) ReadRange(startInclusive, endExclusive []byte) *Future[[]KV] {
	f := NewFuture[[]KV]()
	if e.closed {
		f.Resolve(nil, fmt.Errorf("read_range: %w", wire.ErrClosed))
		return f
	}
	e.schedule(opReadRange, func(failed bool) {
		if failed {
			f.Resolve(nil, fmt.Errorf("read_range: %w", wire.ErrStorageFailed))
			return
		}
		kvs, err := e.backend.ReadRange(startInclusive, endExclusive)
		if err != nil {
			f.Resolve(nil, fmt.Errorf("read_range: %w (%v)", wire.ErrStorageFailed, err))
			return
		}
		f.Resolve(kvs, nil)
	})
	return f
}

// LowerKeyResult is LowerKey's resolved value: Found is false when no
// key below the bound exists.
type LowerKeyResult struct {
	Key   []byte
	Found bool
}

// LowerKey returns the greatest key strictly less than upperBound, used
// to recover the last WAL index at startup.
func (e *Engine) LowerKey(upperBound []byte) *Future[LowerKeyResult] {
	f := NewFuture[LowerKeyResult]()
	if e.closed {
		f.Resolve(LowerKeyResult{}, fmt.Errorf("lower_key: %w", wire.ErrClosed))
		return f
	}
	e.schedule(opLowerKey, func(failed bool) {
		if failed {
			f.Resolve(LowerKeyResult{}, fmt.Errorf("lower_key: %w", wire.ErrStorageFailed))
			return
		}
		k, ok, err := e.backend.LowerKey(upperBound)
		if err != nil {
			f.Resolve(LowerKeyResult{}, fmt.Errorf("lower_key: %w (%v)", wire.ErrStorageFailed, err))
			return
		}
		f.Resolve(LowerKeyResult{Key: k, Found: ok}, nil)
	})
	return f
}

// Sync forces durability of prior writes.
func (e *Engine) Sync() *Future[struct{}] {
	f := NewFuture[struct{}]()
	if e.closed {
		f.Resolve(struct{}{}, fmt.Errorf("sync: %w", wire.ErrClosed))
		return f
	}
	e.schedule(opSync, func(failed bool) {
		if failed {
			f.Resolve(struct{}{}, fmt.Errorf("sync: %w", wire.ErrStorageFailed))
			return
		}
		if err := e.backend.Sync(); err != nil {
			f.Resolve(struct{}{}, fmt.Errorf("sync: %w (%v)", wire.ErrStorageFailed, err))
			return
		}
		f.Resolve(struct{}{}, nil)
	})
	return f
}

// MaybeSnapshot calls Sync if at least every ticks have passed since
// the last snapshot (or since the engine was created, for the first
// one), returning its Future. Returns nil without scheduling anything
// if every is non-positive or it is not yet time. Callers drive this
// once per tick from their own tick source; the engine does no
// snapshot scheduling on its own.
func (e *Engine) MaybeSnapshot(every clock.Tick) *Future[struct{}] {
	if every <= 0 || e.now-e.lastSnapshot < every {
		return nil
	}
	e.lastSnapshot = e.now
	return e.Sync()
}

// Close shuts the engine down: any operation submitted afterward
// resolves immediately with ErrClosed. Ops already in flight still
// drain on their scheduled tick.
func (e *Engine) Close() error {
	e.closed = true
	return e.backend.Close()
}
