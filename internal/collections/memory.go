package collections

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tenant-service/tenant-service/internal/slug"
)

// MemoryStore keeps collections in process memory. Data does not survive a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Record
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]Record),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

func (m *MemoryStore) CreateCollection(_ context.Context, id string) error {
	if err := ValidateIdentifier(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[id]; !ok {
		m.collections[id] = []Record{}
	}
	return nil
}

func (m *MemoryStore) RenameCollection(_ context.Context, oldID, newID string) error {
	if err := validatePair(oldID, newID); err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.collections[oldID]
	if !ok {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, ErrCollectionNotFound)
	}
	if _, ok := m.collections[newID]; ok {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, ErrCollectionExists)
	}

	copied := make([]Record, len(records))
	for i, r := range records {
		copied[i] = Record{ID: r.ID, Data: maps.Clone(r.Data), CreatedAt: r.CreatedAt}
	}
	m.collections[newID] = copied
	delete(m.collections, oldID)
	return nil
}

func (m *MemoryStore) DropCollection(_ context.Context, id string) error {
	if err := ValidateIdentifier(id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.collections, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CollectionExists(_ context.Context, id string) (bool, error) {
	if err := ValidateIdentifier(id); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[id]
	return ok, nil
}

func (m *MemoryStore) ListCollections(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.collections))
	for id := range m.collections {
		if strings.HasPrefix(id, slug.Prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) InsertRecord(_ context.Context, id string, data map[string]any) (*Record, error) {
	if err := ValidateIdentifier(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.collections[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	if data == nil {
		data = map[string]any{}
	}
	rec := Record{ID: uuid.NewString(), Data: maps.Clone(data), CreatedAt: m.now()}
	m.collections[id] = append(records, rec)
	return &rec, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, id string, limit, offset int) ([]Record, error) {
	if err := ValidateIdentifier(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	records, ok := m.collections[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}

	offset = max(offset, 0)
	if offset >= len(records) {
		return []Record{}, nil
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]Record, 0, end-offset)
	for _, r := range records[offset:end] {
		out = append(out, Record{ID: r.ID, Data: maps.Clone(r.Data), CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (m *MemoryStore) CountRecords(_ context.Context, id string) (int64, error) {
	if err := ValidateIdentifier(id); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	records, ok := m.collections[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	return int64(len(records)), nil
}

var _ Store = (*MemoryStore)(nil)
