package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/database"
	"github.com/awebhq/aweb/internal/reservation/models"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	db      *database.DB
	querier pgxQuerier
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewPostgresRepository(db *database.DB, pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, db: db}
}

func (r *PostgresRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if r.querier != nil {
		return r.querier.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *PostgresRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if r.querier != nil {
		return r.querier.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *PostgresRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if r.querier != nil {
		return r.querier.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}

const reservationColumns = `tenant_id, resource_key, holder_agent_id, holder_alias, acquired_at, expires_at, metadata`

func scanReservation(row pgx.Row) (*models.Reservation, error) {
	var res models.Reservation
	var meta []byte
	if err := row.Scan(&res.TenantID, &res.ResourceKey, &res.HolderAgentID, &res.HolderAlias, &res.AcquiredAt, &res.ExpiresAt, &meta); err != nil {
		return nil, err
	}
	res.Metadata = decodeMetadata(meta)
	return &res, nil
}

// decodeMetadata tolerates malformed JSON by falling back to an empty
// object.
func decodeMetadata(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// WithResourceLock opens a transaction, locks the (tenant, resource_key)
// row with SELECT ... FOR UPDATE (or confirms its absence), and runs fn
// with a repository bound to that transaction.
func (r *PostgresRepository) WithResourceLock(ctx context.Context, tenantID, resourceKey string, fn func(ctx context.Context, tx Repository, existing *models.Reservation) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		q := `SELECT ` + reservationColumns + ` FROM aweb.reservations WHERE tenant_id = $1 AND resource_key = $2 FOR UPDATE`
		existing, err := scanReservation(tx.QueryRow(ctx, q, tenantID, resourceKey))
		if errors.Is(err, pgx.ErrNoRows) {
			existing = nil
		} else if err != nil {
			return apperr.Internal("lock reservation row", err)
		}
		txRepo := &PostgresRepository{pool: r.pool, db: r.db, querier: tx}
		return fn(ctx, txRepo, existing)
	})
}

func (r *PostgresRepository) Insert(ctx context.Context, res *models.Reservation) error {
	meta, err := json.Marshal(res.Metadata)
	if err != nil {
		return apperr.Internal("marshal reservation metadata", err)
	}
	const q = `
		INSERT INTO aweb.reservations (tenant_id, resource_key, holder_agent_id, holder_alias, acquired_at, expires_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := r.exec(ctx, q, res.TenantID, res.ResourceKey, res.HolderAgentID, res.HolderAlias, res.AcquiredAt, res.ExpiresAt, meta); err != nil {
		return apperr.Internal("insert reservation", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, res *models.Reservation) error {
	const q = `
		UPDATE aweb.reservations SET expires_at = $1
		WHERE tenant_id = $2 AND resource_key = $3`
	if _, err := r.exec(ctx, q, res.ExpiresAt, res.TenantID, res.ResourceKey); err != nil {
		return apperr.Internal("update reservation", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, tenantID, resourceKey string) error {
	const q = `DELETE FROM aweb.reservations WHERE tenant_id = $1 AND resource_key = $2`
	if _, err := r.exec(ctx, q, tenantID, resourceKey); err != nil {
		return apperr.Internal("delete reservation", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, tenantID, resourceKey string) (*models.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM aweb.reservations WHERE tenant_id = $1 AND resource_key = $2`
	res, err := scanReservation(r.queryRow(ctx, q, tenantID, resourceKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("scan reservation", err)
	}
	return res, nil
}

func (r *PostgresRepository) ListLive(ctx context.Context, tenantID, prefix string, now time.Time) ([]*models.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM aweb.reservations WHERE tenant_id = $1 AND expires_at > $2`
	args := []any{tenantID, now}
	if prefix != "" {
		q += ` AND resource_key LIKE $3`
		args = append(args, prefix+"%")
	}
	q += ` ORDER BY resource_key`
	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Internal("list live reservations", err)
	}
	defer rows.Close()
	var out []*models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, apperr.Internal("scan reservation row", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeleteAll(ctx context.Context, tenantID, prefix string) (int, error) {
	q := `DELETE FROM aweb.reservations WHERE tenant_id = $1`
	args := []any{tenantID}
	if prefix != "" {
		q += ` AND resource_key LIKE $2`
		args = append(args, prefix+"%")
	}
	ct, err := r.exec(ctx, q, args...)
	if err != nil {
		return 0, apperr.Internal("delete all reservations", err)
	}
	return int(ct.RowsAffected()), nil
}
