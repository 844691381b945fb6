package sink

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ajitpratap0/deskstream/pkg/models"
)

// MemoryBackend keeps tickets in a map. It backs dry runs and tests, and
// can inject failures.
type MemoryBackend struct {
	mu   sync.Mutex
	rows map[int64]models.Ticket

	inserted    []int64 // every id handed to Insert, in order
	updated     []int64
	insertCalls int
	existsCalls int

	// Failure injection
	InsertErr    error
	ExistsErr    error
	FailInsertID map[int64]bool
	FailUpdateID map[int64]bool
	// FailInsertCall makes the Nth Insert call (1-based) fail with InsertErr
	FailInsertCall int
}

// NewMemoryBackend returns an empty store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		rows:         make(map[int64]models.Ticket),
		FailInsertID: make(map[int64]bool),
		FailUpdateID: make(map[int64]bool),
	}
}

// Insert stores tickets whose id is not present yet; existing ids are kept.
func (m *MemoryBackend) Insert(_ context.Context, tickets []*models.Ticket) ([]RowError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.insertCalls++
	if m.InsertErr != nil && (m.FailInsertCall == 0 || m.FailInsertCall == m.insertCalls) {
		return nil, m.InsertErr
	}

	var rowErrs []RowError
	for _, t := range tickets {
		m.inserted = append(m.inserted, t.ID)
		if m.FailInsertID[t.ID] {
			rowErrs = append(rowErrs, RowError{TicketID: t.ID, Err: errors.New("rejected")})
			continue
		}
		if _, ok := m.rows[t.ID]; ok {
			continue
		}
		m.rows[t.ID] = *t
	}
	return rowErrs, nil
}

// ExistingIDs returns the stored subset of ids.
func (m *MemoryBackend) ExistingIDs(_ context.Context, ids []int64) (map[int64]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.existsCalls++
	if m.ExistsErr != nil {
		return nil, m.ExistsErr
	}

	out := make(map[int64]struct{})
	for _, id := range ids {
		if _, ok := m.rows[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// Update replaces the stored ticket unless the stored one is newer.
func (m *MemoryBackend) Update(_ context.Context, t *models.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpdateID[t.ID] {
		return errors.New("update rejected")
	}
	m.updated = append(m.updated, t.ID)

	stored, ok := m.rows[t.ID]
	if !ok || stored.UpdatedAt.After(t.UpdatedAt) {
		return nil
	}
	m.rows[t.ID] = *t
	return nil
}

// Close is a no-op.
func (m *MemoryBackend) Close() error {
	return nil
}

// Get returns a copy of the stored ticket.
func (m *MemoryBackend) Get(id int64) (models.Ticket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	return t, ok
}

// Len returns the number of stored tickets.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// IDs returns the stored ids in ascending order.
func (m *MemoryBackend) IDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// InsertedIDs returns every id handed to Insert, duplicates included.
func (m *MemoryBackend) InsertedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.inserted...)
}

// UpdatedIDs returns every id handed to Update.
func (m *MemoryBackend) UpdatedIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.updated...)
}

// InsertCalls counts Insert calls.
func (m *MemoryBackend) InsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertCalls
}

// ExistsCalls counts ExistingIDs calls.
func (m *MemoryBackend) ExistsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsCalls
}
