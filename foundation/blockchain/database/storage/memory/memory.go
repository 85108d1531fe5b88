// Package memory implements the database.KeyValueStore interface in memory.
// It backs tests and nodes started without a database path.
package memory

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/taucoin/taunode/foundation/blockchain/database"
)

// Memory represents a key value store held in a map.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New constructs an empty memory store.
func New() *Memory {
	return &Memory{
		data: make(map[string][]byte),
	}
}

// Close has nothing to release.
func (m *Memory) Close() error {
	return nil
}

// Get retrieves a copy of the value by key.
func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.data[string(key)]
	if !exists {
		return nil, database.ErrNotFound
	}
	return bytes.Clone(value), nil
}

// Has checks if a key exists.
func (m *Memory) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.data[string(key)]
	return exists, nil
}

// Put stores a copy of the value.
func (m *Memory) Put(key []byte, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[string(key)] = bytes.Clone(value)
	return nil
}

// Delete removes a key value pair.
func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, string(key))
	return nil
}

// NewBatch returns a batch applied under one lock.
func (m *Memory) NewBatch() database.Batch {
	return &batch{mem: m}
}

// NewIterator returns an iterator over a snapshot of the keys with the
// prefix, in ascending order.
func (m *Memory) NewIterator(prefix []byte) database.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, string(prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	it := iterator{
		keys:   keys,
		values: make([][]byte, len(keys)),
		pos:    -1,
	}
	for i, key := range keys {
		it.values[i] = bytes.Clone(m.data[key])
	}

	return &it
}

// =============================================================================

type op struct {
	key    string
	value  []byte
	delete bool
}

// batch records operations until Write.
type batch struct {
	mem *Memory
	ops []op
}

func (b *batch) Put(key []byte, value []byte) {
	b.ops = append(b.ops, op{key: string(key), value: bytes.Clone(value)})
}

func (b *batch) Delete(key []byte) {
	b.ops = append(b.ops, op{key: string(key), delete: true})
}

func (b *batch) Write() error {
	b.mem.mu.Lock()
	defer b.mem.mu.Unlock()

	for _, o := range b.ops {
		if o.delete {
			delete(b.mem.data, o.key)
			continue
		}
		b.mem.data[o.key] = o.value
	}

	return nil
}

// iterator walks a snapshot taken when it was created.
type iterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *iterator) Next() bool {
	if it.pos+1 >= len(it.keys) {
		it.pos = len(it.keys)
		return false
	}
	it.pos++
	return true
}

func (it *iterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil
	}
	return []byte(it.keys[it.pos])
}

func (it *iterator) Value() []byte {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil
	}
	return it.values[it.pos]
}

func (it *iterator) Release() {
	it.keys = nil
	it.values = nil
}

func (it *iterator) Error() error {
	return nil
}
