package repository

import (
	"context"
	"sync"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/tenant/models"
)

// MemoryRepository is an in-memory fake Repository for unit tests.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]*models.Tenant
	bySlug  map[string]*models.Tenant
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*models.Tenant),
		bySlug: make(map[string]*models.Tenant),
	}
}

func (r *MemoryRepository) CreateTenant(_ context.Context, t *models.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.byID[t.ID] = &cp
	r.bySlug[t.Slug] = &cp
	return nil
}

func (r *MemoryRepository) GetTenantByID(_ context.Context, id string) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok || t.DeletedAt != nil {
		return nil, apperr.NotFound("tenant", id)
	}
	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) GetTenantBySlug(_ context.Context, slug string) (*models.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.bySlug[slug]
	if !ok || t.DeletedAt != nil {
		return nil, apperr.NotFound("tenant", slug)
	}
	cp := *t
	return &cp, nil
}
