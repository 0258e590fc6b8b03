package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warriorguo/etlflow/store"
)

var (
	_ store.Store = &memStore{}
)

type entryKey struct {
	prefix string
	key    string
}

// memStore keeps everything in a map and is lost with the process: tests
// and one-shot runs only.
type memStore struct {
	mu sync.Mutex

	// errHandler is consulted after every operation, tests use it to
	// inject store failures.
	errHandler func() error

	m map[entryKey][]byte
}

func NewMemStore() store.Store {
	return NewMemStoreWithErrHandler(nil)
}

func NewMemStoreWithErrHandler(errHandler func() error) store.Store {
	if errHandler == nil {
		errHandler = func() error { return nil }
	}
	return &memStore{
		m:          make(map[entryKey][]byte),
		errHandler: errHandler,
	}
}

func (m *memStore) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := make([]string, 0, len(m.m))
	for k, value := range m.m {
		lines = append(lines, fmt.Sprintf("%s%s: %s", k.prefix, k.key, value))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

func (m *memStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, exists := m.m[entryKey{prefix, key}]
	if !exists {
		return nil, m.errHandler()
	}
	return append([]byte(nil), value...), m.errHandler()
}

func (m *memStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.m[entryKey{prefix, key}] = append([]byte(nil), value...)
	return m.errHandler()
}

func (m *memStore) Remove(ctx context.Context, prefix, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.m, entryKey{prefix, key})
	return m.errHandler()
}

// List visits the keys of prefix in lexical order. The iterator runs
// without the lock held and may call back into the store.
func (m *memStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	m.mu.Lock()
	keys := make([]string, 0)
	for k := range m.m {
		if k.prefix == prefix {
			keys = append(keys, k.key)
		}
	}
	m.mu.Unlock()

	sort.Strings(keys)
	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return m.errHandler()
}
