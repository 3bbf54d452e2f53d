package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/callbridge/internal/domain"
)

// MemoryCallRecords is a process-local domain.CallRecordStore.
type MemoryCallRecords struct {
	mu      sync.RWMutex
	records map[string]domain.CallRecord
	order   []string
}

// NewMemoryCallRecords creates an empty in-memory record store.
func NewMemoryCallRecords() *MemoryCallRecords {
	return &MemoryCallRecords{records: make(map[string]domain.CallRecord)}
}

func cloneRecord(r domain.CallRecord) domain.CallRecord {
	r.Transcript = domain.CloneTranscript(r.Transcript)
	if r.EndTime != nil {
		t := *r.EndTime
		r.EndTime = &t
	}
	if r.Duration != nil {
		d := *r.Duration
		r.Duration = &d
	}
	return r
}

func (m *MemoryCallRecords) Find(_ context.Context, id string) (*domain.CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	r = cloneRecord(r)
	return &r, nil
}

func (m *MemoryCallRecords) Create(_ context.Context, rec domain.CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return ErrRecordExists
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if rec.Status == "" {
		rec.Status = domain.RecordInProgress
	}
	m.records[rec.ID] = cloneRecord(rec)
	m.order = append(m.order, rec.ID)
	return nil
}

func (m *MemoryCallRecords) Update(_ context.Context, id string, upd domain.RecordUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return domain.NotFound("store.update", "Call record not found")
	}
	if upd.EndTime != nil {
		t := *upd.EndTime
		r.EndTime = &t
	}
	if upd.Duration != nil {
		d := *upd.Duration
		r.Duration = &d
	}
	if upd.Transcript != nil {
		r.Transcript = domain.CloneTranscript(upd.Transcript)
	}
	if upd.Status != nil {
		r.Status = *upd.Status
	}
	m.records[id] = r
	return nil
}

func (m *MemoryCallRecords) List(_ context.Context, filter domain.RecordFilter) ([]domain.CallRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.CallRecord
	for _, id := range slices.Backward(m.order) {
		r := m.records[id]
		if filter.AgentID != "" && r.AgentID != filter.AgentID {
			continue
		}
		if filter.BuyerID != "" && r.BuyerID != filter.BuyerID {
			continue
		}
		out = append(out, cloneRecord(r))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
