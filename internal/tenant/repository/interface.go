package repository

import (
	"context"

	"github.com/awebhq/aweb/internal/tenant/models"
)

// Repository defines tenant row storage.
type Repository interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByID(ctx context.Context, id string) (*models.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error)
}
