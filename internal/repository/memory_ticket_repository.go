package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/cashplace/escrow/internal/domain"
)

// MemoryTicketRepository keeps records in process memory.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	records map[string]domain.TicketRecord
}

// NewMemoryTicketRepository returns an empty in-memory repository.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{records: make(map[string]domain.TicketRecord)}
}

func (r *MemoryTicketRepository) Save(_ context.Context, record domain.TicketRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = cloneRecord(record)
	return nil
}

func (r *MemoryTicketRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrTicketNotFound
	}
	delete(r.records, id)
	return nil
}

// LoadAll returns the records ordered by id.
func (r *MemoryTicketRepository) LoadAll(context.Context) ([]domain.TicketRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]domain.TicketRecord, 0, len(r.records))
	for _, record := range r.records {
		result = append(result, cloneRecord(record))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Get returns the stored record for id.
func (r *MemoryTicketRepository) Get(id string) (domain.TicketRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[id]
	return cloneRecord(record), ok
}

func cloneRecord(record domain.TicketRecord) domain.TicketRecord {
	record.SpenderHash = clonePtr(record.SpenderHash)
	record.ReceiverHash = clonePtr(record.ReceiverHash)
	record.MasterIsSpender = clonePtr(record.MasterIsSpender)
	return record
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
