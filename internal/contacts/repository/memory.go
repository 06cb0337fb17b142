package repository

import (
	"context"
	"sync"

	"github.com/awebhq/aweb/internal/contacts/models"
)

// MemoryRepository is an in-memory fake Repository for unit tests.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*models.Contact // "tenant|address" -> row
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*models.Contact)}
}

func key(tenantID, address string) string { return tenantID + "|" + address }

func (r *MemoryRepository) Insert(_ context.Context, c *models.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.rows[key(c.TenantID, c.Address)] = &cp
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, row := range r.rows {
		if row.TenantID == tenantID && row.ID == id {
			delete(r.rows, k)
			return nil
		}
	}
	return nil
}

func (r *MemoryRepository) ExistsAny(_ context.Context, tenantID string, candidates []string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range candidates {
		if _, ok := r.rows[key(tenantID, c)]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) List(_ context.Context, tenantID string) ([]*models.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Contact
	for _, row := range r.rows {
		if row.TenantID == tenantID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}
