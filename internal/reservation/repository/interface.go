package repository

import (
	"context"
	"time"

	"github.com/awebhq/aweb/internal/reservation/models"
)

// Repository defines storage for reservations, tenant-scoped throughout.
type Repository interface {
	// WithResourceLock opens a transaction, takes a row lock on (tenant,
	// resource_key) via SELECT ... FOR UPDATE, and runs fn with the
	// existing row (nil if absent, regardless of expiry) and a
	// transaction-scoped Repository.
	WithResourceLock(ctx context.Context, tenantID, resourceKey string, fn func(ctx context.Context, tx Repository, existing *models.Reservation) error) error

	Insert(ctx context.Context, r *models.Reservation) error
	Update(ctx context.Context, r *models.Reservation) error
	Delete(ctx context.Context, tenantID, resourceKey string) error

	Get(ctx context.Context, tenantID, resourceKey string) (*models.Reservation, error)
	// ListLive returns non-expired reservations, optionally filtered by a
	// resource-key prefix, ordered by resource_key.
	ListLive(ctx context.Context, tenantID, prefix string, now time.Time) ([]*models.Reservation, error)
	// DeleteAll deletes every reservation in the tenant, optionally
	// filtered by a resource-key prefix, regardless of expiry or holder.
	// Returns the number of rows deleted.
	DeleteAll(ctx context.Context, tenantID, prefix string) (int, error)
}
