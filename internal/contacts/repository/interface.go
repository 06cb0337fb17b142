package repository

import (
	"context"

	"github.com/awebhq/aweb/internal/contacts/models"
)

// Repository defines storage for the per-tenant contact allow-list.
type Repository interface {
	Insert(ctx context.Context, c *models.Contact) error
	// Delete removes a contact by (tenant, id); missing is not an
	// error — deletion is idempotent.
	Delete(ctx context.Context, tenantID, id string) error
	// ExistsAny reports whether any contact row matches either candidate
	// exactly (the full sender address, or its bare org slug).
	ExistsAny(ctx context.Context, tenantID string, candidates []string) (bool, error)
	List(ctx context.Context, tenantID string) ([]*models.Contact, error)
}
