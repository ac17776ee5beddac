package memory

import (
	"context"
	"sort"
	"sync"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
)

const DefaultHistoryCapacity = 500

// MemoryHistoryRepository keeps the most recent call records in process.
type MemoryHistoryRepository struct {
	records  map[domain.SessionID]*domain.CallRecord
	capacity int
	mu       sync.RWMutex
}

func NewMemoryHistoryRepository(capacity int) ports.CallHistoryRepository {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &MemoryHistoryRepository{
		records:  make(map[domain.SessionID]*domain.CallRecord),
		capacity: capacity,
	}
}

func (r *MemoryHistoryRepository) Save(ctx context.Context, record *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *record
	r.records[record.SessionID] = &stored

	if len(r.records) > r.capacity {
		oldest := r.sortedLocked()[len(r.records)-1]
		delete(r.records, oldest.SessionID)
	}
	return nil
}

func (r *MemoryHistoryRepository) Get(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.records[id]
	if !exists {
		return nil, domain.ErrRecordNotFound
	}
	out := *record
	return &out, nil
}

// List returns up to limit records, newest first. A non-positive limit
// returns everything.
func (r *MemoryHistoryRepository) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedLocked()
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]*domain.CallRecord, len(sorted))
	for i, rec := range sorted {
		c := *rec
		out[i] = &c
	}
	return out, nil
}

func (r *MemoryHistoryRepository) sortedLocked() []*domain.CallRecord {
	out := make([]*domain.CallRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndedAt.Equal(out[j].EndedAt) {
			return out[i].SessionID > out[j].SessionID
		}
		return out[i].EndedAt.After(out[j].EndedAt)
	})
	return out
}
