package checkpoint

import (
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps checkpoints in memory, encoded the same way DirStore
// writes them to disk.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[uuid.UUID][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[uuid.UUID][]byte),
	}
}

func (m *MemoryStore) Save(r Record) error {
	var buf bytes.Buffer
	if err := r.Serialize(&buf); err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", r.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[r.ID] = buf.Bytes()
	return nil
}

func (m *MemoryStore) Load(id uuid.UUID) (Record, error) {
	m.mu.RLock()
	b, ok := m.data[id]
	m.mu.RUnlock()

	var r Record
	if !ok {
		return r, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := r.Deserialize(bytes.NewReader(b)); err != nil {
		return r, err
	}
	return r, nil
}

func (m *MemoryStore) Delete(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.data, id)
	return nil
}

func (m *MemoryStore) List() ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids, nil
}

func sortIDs(ids []uuid.UUID) {
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
}
