package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process; used by the memory backend and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]Record
	// maxPerUser bounds each user's log; 0 keeps everything.
	maxPerUser int
}

func NewMemoryStore(maxPerUser int) *MemoryStore {
	return &MemoryStore{records: make(map[string][]Record), maxPerUser: maxPerUser}
}

func (m *MemoryStore) Append(_ context.Context, rec Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	params := make(map[string]any, len(rec.Parameters))
	for k, v := range rec.Parameters {
		params[k] = v
	}
	rec.Parameters = params

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UserID] = append(m.records[rec.UserID], rec)
	m.trimLocked(rec.UserID)
	return nil
}

func (m *MemoryStore) trimLocked(userID string) {
	if m.maxPerUser <= 0 {
		return
	}
	recs := m.records[userID]
	if len(recs) > m.maxPerUser {
		m.records[userID] = recs[len(recs)-m.maxPerUser:]
	}
}

func (m *MemoryStore) Recent(_ context.Context, userID string, kind Kind, limit int) ([]Record, error) {
	m.mu.RLock()
	var out []Record
	recs := m.records[userID]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Kind == kind {
			out = append(out, recs[i])
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Len reports how many records are held for userID.
func (m *MemoryStore) Len(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[userID])
}

func (m *MemoryStore) Close(context.Context) error { return nil }
