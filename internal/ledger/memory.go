package ledger

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store. Writers are serialized by a mutex and each
// transaction stages its writes in an overlay that is applied only when the
// transaction function succeeds.
type MemStore struct {
	mu     sync.RWMutex
	kv     map[string]map[string][]byte
	logs   map[string][][]byte
	closed bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		kv:   make(map[string]map[string][]byte),
		logs: make(map[string][][]byte),
	}
}

// Update implements Store.
func (s *MemStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	tx := &memTx{
		store:   s,
		puts:    make(map[string]map[string][]byte),
		appends: make(map[string][][]byte),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View implements Store.
func (s *MemStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return fn(&memTx{store: s, readOnly: true})
}

// Close implements Store.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type memTx struct {
	store    *MemStore
	readOnly bool
	puts     map[string]map[string][]byte
	appends  map[string][][]byte
}

func (t *memTx) Get(bucket, key string) ([]byte, bool, error) {
	if v, ok := t.puts[bucket][key]; ok {
		return clone(v), true, nil
	}
	v, ok := t.store.kv[bucket][key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (t *memTx) Put(bucket, key string, value []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if t.puts[bucket] == nil {
		t.puts[bucket] = make(map[string][]byte)
	}
	t.puts[bucket][key] = clone(value)
	return nil
}

func (t *memTx) Append(stream string, value []byte) (uint64, error) {
	if t.readOnly {
		return 0, ErrReadOnly
	}
	t.appends[stream] = append(t.appends[stream], clone(value))
	return uint64(len(t.store.logs[stream]) + len(t.appends[stream])), nil
}

func (t *memTx) Range(stream string, after uint64, fn func(uint64, []byte) error) error {
	entries := t.store.logs[stream]
	if staged := t.appends[stream]; len(staged) > 0 {
		entries = append(entries[:len(entries):len(entries)], staged...)
	}
	for i := after; i < uint64(len(entries)); i++ {
		if err := fn(i+1, clone(entries[i])); err != nil {
			return err
		}
	}
	return nil
}

func (t *memTx) commit() {
	for bucket, kvs := range t.puts {
		if t.store.kv[bucket] == nil {
			t.store.kv[bucket] = make(map[string][]byte)
		}
		for k, v := range kvs {
			t.store.kv[bucket][k] = v
		}
	}
	for stream, entries := range t.appends {
		t.store.logs[stream] = append(t.store.logs[stream], entries...)
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
