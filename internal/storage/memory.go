package storage

import (
	"bytes"
	"context"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore implements Store entirely in RAM. Adapted from the
// teacher's MemoryStore (internal/storage.MemoryStore): the single flat
// map becomes one map per column family, Put/Get/Delete keep the
// teacher's copy-in/copy-out discipline, and Batch/Snapshot/Restore are
// new to satisfy the core's atomicity and durability contract.
//
// Not durable: Snapshot/Restore round-trip through an on-disk gob-free
// custom encoding so tests can exercise the snapshot contract without a
// real database, but process restarts lose all data not snapshotted.
type MemoryStore struct {
	cfs map[string]map[string][]byte
	mu  sync.RWMutex
}

// NewMemoryStore creates an empty store with the three reserved column
// families pre-created (additional column families may still be used;
// they are created lazily on first write).
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cfs: map[string]map[string][]byte{
			CFShardState:   {},
			CFTransactions: {},
			CFMetadata:     {},
		},
	}
}

func (m *MemoryStore) cf(name string) map[string][]byte {
	c, ok := m.cfs[name]
	if !ok {
		c = make(map[string][]byte)
		m.cfs[name] = c
	}
	return c
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, cf string, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.cfs[cf][string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, cf string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.cf(cf)[string(key)] = stored
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, cf string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cf(cf), string(key))
	return nil
}

// Batch implements Store. All ops land under one lock acquisition, so
// no reader can observe a partial application.
func (m *MemoryStore) Batch(_ context.Context, cf string, ops []Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.cf(cf)
	for _, op := range ops {
		if op.Delete {
			delete(target, string(op.Key))
			continue
		}
		stored := make([]byte, len(op.Value))
		copy(stored, op.Value)
		target[string(op.Key)] = stored
	}
	return nil
}

// ScanPrefix implements Store.
func (m *MemoryStore) ScanPrefix(_ context.Context, cf string, prefix []byte) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []KV
	for k, v := range m.cfs[cf] {
		if bytes.HasPrefix([]byte(k), prefix) {
			val := make([]byte, len(v))
			copy(val, v)
			out = append(out, KV{Key: []byte(k), Value: val})
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// encodeSnapshot writes a trivial length-prefixed encoding: it exists only
// so MemoryStore can honor the Snapshot/Restore contract in tests
// without depending on the bbolt-backed implementation.
func encodeSnapshot(cfs map[string]map[string][]byte) []byte {
	var buf bytes.Buffer
	writeString := func(s string) {
		b := []byte(s)
		var lenBuf [4]byte
		putUint32(lenBuf[:], uint32(len(b)))
		buf.Write(lenBuf[:])
		buf.Write(b)
	}
	var cfLen [4]byte
	putUint32(cfLen[:], uint32(len(cfs)))
	buf.Write(cfLen[:])
	for cfName, kv := range cfs {
		writeString(cfName)
		var n [4]byte
		putUint32(n[:], uint32(len(kv)))
		buf.Write(n[:])
		for k, v := range kv {
			writeString(k)
			writeString(string(v))
		}
	}
	return buf.Bytes()
}

func decodeSnapshot(data []byte) (map[string]map[string][]byte, error) {
	r := bytes.NewReader(data)
	readString := func() (string, error) {
		var lenBuf [4]byte
		if _, err := r.Read(lenBuf[:]); err != nil {
			return "", err
		}
		n := getUint32(lenBuf[:])
		b := make([]byte, n)
		if n > 0 {
			if _, err := r.Read(b); err != nil {
				return "", err
			}
		}
		return string(b), nil
	}

	var cfCountBuf [4]byte
	if _, err := r.Read(cfCountBuf[:]); err != nil {
		return nil, errors.Wrap(ErrCorrupt, "snapshot header")
	}
	cfCount := getUint32(cfCountBuf[:])

	out := make(map[string]map[string][]byte, cfCount)
	for i := uint32(0); i < cfCount; i++ {
		cfName, err := readString()
		if err != nil {
			return nil, errors.Wrap(ErrCorrupt, "snapshot cf name")
		}
		var n [4]byte
		if _, err := r.Read(n[:]); err != nil {
			return nil, errors.Wrap(ErrCorrupt, "snapshot cf size")
		}
		count := getUint32(n[:])
		kv := make(map[string][]byte, count)
		for j := uint32(0); j < count; j++ {
			k, err := readString()
			if err != nil {
				return nil, errors.Wrap(ErrCorrupt, "snapshot key")
			}
			v, err := readString()
			if err != nil {
				return nil, errors.Wrap(ErrCorrupt, "snapshot value")
			}
			kv[k] = []byte(v)
		}
		out[cfName] = kv
	}
	return out, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Snapshot implements Store.
func (m *MemoryStore) Snapshot(_ context.Context, path string) error {
	m.mu.RLock()
	data := encodeSnapshot(m.cfs)
	m.mu.RUnlock()

	return os.WriteFile(path, data, 0o600)
}

// Restore implements Store. It replaces the live state entirely.
func (m *MemoryStore) Restore(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read snapshot")
	}
	decoded, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfs = decoded
	return nil
}

// Close implements Store. MemoryStore holds no external resources.
func (m *MemoryStore) Close() error { return nil }
