package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileBackend is a WAL-first, snapshot-backed durable Backend: every
// write is appended to an fsync'd NDJSON log before the in-memory map
// is updated, and Sync additionally rolls a full snapshot and
// truncates the log, so recovery only has to replay what's newer than
// the last snapshot.
type FileBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	dataDir  string
	wal      *os.File
	walPath  string
	snapPath string
}

type walEntry struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// NewFileBackend opens or creates a FileBackend rooted at dataDir:
// it loads the last snapshot (if any), opens the WAL, and replays any
// entries written after that snapshot.
func NewFileBackend(dataDir string) (*FileBackend, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	b := &FileBackend{
		data:     make(map[string][]byte),
		dataDir:  dataDir,
		walPath:  filepath.Join(dataDir, "wal.log"),
		snapPath: filepath.Join(dataDir, "snapshot.json"),
	}

	if err := b.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	f, err := os.OpenFile(b.walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	b.wal = f

	if err := b.replayWAL(); err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	return b, nil
}

func (b *FileBackend) loadSnapshot() error {
	f, err := os.Open(b.snapPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var snapshot map[string][]byte
	if err := json.NewDecoder(f).Decode(&snapshot); err != nil {
		return err
	}
	b.data = snapshot
	return nil
}

func (b *FileBackend) replayWAL() error {
	if _, err := b.wal.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(b.wal)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e walEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// Corrupt entry — skip it. A production system would stop
			// and alert an operator instead of silently continuing.
			continue
		}
		b.data[e.Key] = e.Value
	}
	return scanner.Err()
}

func (b *FileBackend) appendWAL(entries []walEntry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if _, err := b.wal.Write(buf.Bytes()); err != nil {
		return err
	}
	return b.wal.Sync()
}

func (b *FileBackend) Get(key []byte) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (b *FileBackend) Put(key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.appendWAL([]walEntry{{Key: string(key), Value: value}}); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	v := make([]byte, len(value))
	copy(v, value)
	b.data[string(key)] = v
	return nil
}

func (b *FileBackend) PutBatch(batch []KV) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]walEntry, len(batch))
	for i, kv := range batch {
		entries[i] = walEntry{Key: string(kv.Key), Value: kv.Value}
	}
	if err := b.appendWAL(entries); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}
	for _, kv := range batch {
		v := make([]byte, len(kv.Value))
		copy(v, kv.Value)
		b.data[string(kv.Key)] = v
	}
	return nil
}

func (b *FileBackend) ReadRange(startInclusive, endExclusive []byte) ([]KV, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := make([]string, 0, len(b.data))
	for k := range b.data {
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
		out = append(out, KV{Key: kb, Value: b.data[k]})
	}
	return out, nil
}

// LowerKey returns the greatest key strictly less than upperBound, a
// linear scan over every key of the resident map used for WAL-index
// recovery.
func (b *FileBackend) LowerKey(upperBound []byte) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var best []byte
	found := false
	for k := range b.data {
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

// Sync snapshots the full in-memory state to disk, atomically
// replacing the previous snapshot, then truncates the WAL — it is now
// entirely captured by the snapshot. There is no background goroutine
// driving this; the tick loop is the only thing allowed to drive
// storage work, so the Engine calls this from its own MaybeSnapshot.
func (b *FileBackend) Sync() error {
	b.mu.Lock()
	snapshot := make(map[string][]byte, len(b.data))
	for k, v := range b.data {
		snapshot[k] = v
	}
	b.mu.Unlock()

	tmp := b.snapPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snapshot); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.snapPath); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.wal.Truncate(0); err != nil {
		return err
	}
	_, err = b.wal.Seek(0, 0)
	return err
}

func (b *FileBackend) Close() error {
	return b.wal.Close()
}
