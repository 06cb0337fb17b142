package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/tenant/models"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository builds a PostgresRepository over an existing pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) CreateTenant(ctx context.Context, t *models.Tenant) error {
	const q = `
		INSERT INTO aweb.tenants (id, slug, display_name, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, q, t.ID, t.Slug, t.DisplayName, t.CreatedAt)
	return err
}

func (r *PostgresRepository) GetTenantByID(ctx context.Context, id string) (*models.Tenant, error) {
	const q = `
		SELECT id, slug, display_name, created_at, deleted_at
		FROM aweb.tenants WHERE id = $1 AND deleted_at IS NULL`
	return r.scanOne(ctx, q, id)
}

func (r *PostgresRepository) GetTenantBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	const q = `
		SELECT id, slug, display_name, created_at, deleted_at
		FROM aweb.tenants WHERE slug = $1 AND deleted_at IS NULL`
	return r.scanOne(ctx, q, slug)
}

func (r *PostgresRepository) scanOne(ctx context.Context, query string, arg any) (*models.Tenant, error) {
	row := r.pool.QueryRow(ctx, query, arg)
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.DisplayName, &t.CreatedAt, &t.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("tenant", asString(arg))
	}
	if err != nil {
		return nil, apperr.Internal("scan tenant row", err)
	}
	return &t, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
