package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/awebhq/aweb/internal/reservation/models"
)

// MemoryRepository is an in-memory fake Repository for unit tests. Locking
// is approximated with a single mutex held for the duration of fn, which is
// sufficient to serialize the test suite's concurrent acquire attempts.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*models.Reservation // "tenant|key" -> row
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*models.Reservation)}
}

func key(tenantID, resourceKey string) string { return tenantID + "|" + resourceKey }

func (r *MemoryRepository) WithResourceLock(ctx context.Context, tenantID, resourceKey string, fn func(ctx context.Context, tx Repository, existing *models.Reservation) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var existing *models.Reservation
	if row, ok := r.rows[key(tenantID, resourceKey)]; ok {
		cp := *row
		existing = &cp
	}
	return fn(ctx, r, existing)
}

func (r *MemoryRepository) Insert(_ context.Context, res *models.Reservation) error {
	cp := *res
	r.rows[key(res.TenantID, res.ResourceKey)] = &cp
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, res *models.Reservation) error {
	cp := *res
	r.rows[key(res.TenantID, res.ResourceKey)] = &cp
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, tenantID, resourceKey string) error {
	delete(r.rows, key(tenantID, resourceKey))
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, tenantID, resourceKey string) (*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key(tenantID, resourceKey)]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (r *MemoryRepository) ListLive(_ context.Context, tenantID, prefix string, now time.Time) ([]*models.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Reservation
	for _, row := range r.rows {
		if row.TenantID != tenantID || row.Expired(now) {
			continue
		}
		if prefix != "" && !strings.HasPrefix(row.ResourceKey, prefix) {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceKey < out[j].ResourceKey })
	return out, nil
}

func (r *MemoryRepository) DeleteAll(_ context.Context, tenantID, prefix string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, row := range r.rows {
		if row.TenantID != tenantID {
			continue
		}
		if prefix != "" && !strings.HasPrefix(row.ResourceKey, prefix) {
			continue
		}
		delete(r.rows, k)
		n++
	}
	return n, nil
}
