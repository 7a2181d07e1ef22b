package storage

import (
	"bytes"
	"sort"
	"sync"
)

// KV is one ordered entry as returned by Backend.ReadRange.
type KV struct {
	Key   []byte
	Value []byte
}

// Backend is the synchronous key-value store the async Engine wraps
// with delay and failure injection. Keys and values are opaque byte
// sequences; a Backend does not interpret them.
type Backend interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	PutBatch(batch []KV) error
	ReadRange(startInclusive, endExclusive []byte) ([]KV, error)
	LowerKey(upperBound []byte) ([]byte, bool, error)
	Sync() error
	Close() error
}

// MemoryBackend is a sorted in-memory Backend with no durability.
// Used by the simulation harness and as cmd/server's default when
// --data is omitted.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryBackend) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
	return nil
}

func (m *MemoryBackend) PutBatch(batch []KV) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range batch {
		v := make([]byte, len(kv.Value))
		copy(v, kv.Value)
		m.data[string(kv.Key)] = v
	}
	return nil
}

func (m *MemoryBackend) ReadRange(startInclusive, endExclusive []byte) ([]KV, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []KV
	for _, k := range keys {
		kb := []byte(k)
		if bytes.Compare(kb, startInclusive) < 0 {
			continue
		}
		if bytes.Compare(kb, endExclusive) >= 0 {
			break
		}
		out = append(out, KV{Key: kb, Value: m.data[k]})
	}
	return out, nil
}

func (m *MemoryBackend) LowerKey(upperBound []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best []byte
	found := false
	for k := range m.data {
		kb := []byte(k)
		if bytes.Compare(kb, upperBound) >= 0 {
			continue
		}
		if !found || bytes.Compare(kb, best) > 0 {
			best = kb
			found = true
		}
	}
	return best, found, nil
}

func (m *MemoryBackend) Sync() error  { return nil }
func (m *MemoryBackend) Close() error { return nil }
