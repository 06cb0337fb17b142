package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/contacts/models"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Insert(ctx context.Context, c *models.Contact) error {
	const q = `
		INSERT INTO aweb.contacts (id, tenant_id, address, label, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (tenant_id, address) DO UPDATE SET label = EXCLUDED.label`
	if _, err := r.pool.Exec(ctx, q, c.ID, c.TenantID, c.Address, c.Label, c.CreatedAt); err != nil {
		return apperr.Internal("insert contact", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tenantID, id string) error {
	const q = `DELETE FROM aweb.contacts WHERE tenant_id = $1 AND id = $2`
	if _, err := r.pool.Exec(ctx, q, tenantID, id); err != nil {
		return apperr.Internal("delete contact", err)
	}
	return nil
}

func (r *PostgresRepository) ExistsAny(ctx context.Context, tenantID string, candidates []string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM aweb.contacts WHERE tenant_id = $1 AND address = ANY($2))`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, tenantID, candidates).Scan(&exists); err != nil {
		return false, apperr.Internal("check contact existence", err)
	}
	return exists, nil
}

func (r *PostgresRepository) List(ctx context.Context, tenantID string) ([]*models.Contact, error) {
	const q = `SELECT id, tenant_id, address, label, created_at FROM aweb.contacts WHERE tenant_id = $1 ORDER BY address`
	rows, err := r.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, apperr.Internal("list contacts", err)
	}
	defer rows.Close()
	var out []*models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Address, &c.Label, &c.CreatedAt); err != nil {
			return nil, apperr.Internal("scan contact row", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
