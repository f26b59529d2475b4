package overrides

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
)

// MemoryStore keeps overrides in process. It is used when no database is
// configured and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	overrides map[string]Override
	mapping   inventory.Mapping
	now       func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		overrides: make(map[string]Override),
		mapping:   inventory.Mapping{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns all overrides ordered by item id.
func (m *MemoryStore) List(ctx context.Context) ([]Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Override, 0, len(m.overrides))
	for _, o := range m.overrides {
		out = append(out, copyOverride(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, itemID string) (Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.overrides[itemID]
	if !ok {
		return Override{}, ErrNotFound
	}
	return copyOverride(o), nil
}

// Put inserts or replaces the override and stamps UpdatedAt.
func (m *MemoryStore) Put(ctx context.Context, o Override) (Override, error) {
	if err := o.Validate(); err != nil {
		return Override{}, err
	}
	o = copyOverride(o)
	o.UpdatedAt = m.now()

	m.mu.Lock()
	m.overrides[o.ItemID] = o
	m.mu.Unlock()
	return copyOverride(o), nil
}

func (m *MemoryStore) Delete(ctx context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.overrides[itemID]; !ok {
		return ErrNotFound
	}
	delete(m.overrides, itemID)
	return nil
}

func (m *MemoryStore) LoadColumnMapping(ctx context.Context) (inventory.Mapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return inventory.Mapping{}.Merge(m.mapping), nil
}

// SaveColumnMapping replaces the stored mapping. Empty letters clear a role.
func (m *MemoryStore) SaveColumnMapping(ctx context.Context, mapping inventory.Mapping, updatedBy string) error {
	if err := mapping.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.mapping = inventory.Mapping{}.Merge(mapping)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() {}

func copyOverride(o Override) Override {
	o.HiddenFields = append([]string{}, o.HiddenFields...)
	return o
}
