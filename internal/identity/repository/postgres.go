package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/database"
	"github.com/awebhq/aweb/internal/identity/models"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
	db   *database.DB
	// querier is either pool or an in-flight transaction; set by
	// WithAgentLock to scope writes issued from inside its fn.
	querier pgxQuerier
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// NewPostgresRepository builds a PostgresRepository over an existing pool.
func NewPostgresRepository(db *database.DB, pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool, db: db}
}

func (r *PostgresRepository) exec(ctx context.Context, sql string, args ...any) error {
	if r.querier != nil {
		_, err := r.querier.Exec(ctx, sql, args...)
		return err
	}
	_, err := r.pool.Exec(ctx, sql, args...)
	return err
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

func (r *PostgresRepository) InsertAgentIfAliasFree(ctx context.Context, tenantID, alias string) (string, bool, error) {
	const q = `
		INSERT INTO aweb.agents (id, tenant_id, alias, lifetime, status, access_policy, created_at)
		SELECT $1, $2, $3, 'persistent', 'active', 'open', now()
		WHERE NOT EXISTS (
			SELECT 1 FROM aweb.agents
			WHERE tenant_id = $2 AND lower(alias) = lower($3) AND deleted_at IS NULL
		)
		RETURNING id`
	id := uuid.NewString()
	var returnedID string
	err := r.queryRow(ctx, q, id, tenantID, alias).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Internal("insert agent if alias free", err)
	}
	return returnedID, true, nil
}

func (r *PostgresRepository) SetAgentIdentityFields(ctx context.Context, agentID, displayName, kind, accessPolicy, lifetime string, did *string, publicKey []byte, custody *string, encryptedSeed []byte) error {
	const q = `
		UPDATE aweb.agents
		SET display_name = $1, kind = $2, access_policy = $3, lifetime = $4,
		    did = $5, public_key = $6, custody = $7, encrypted_seed = $8
		WHERE id = $9`
	if err := r.exec(ctx, q, displayName, kind, accessPolicy, lifetime, did, publicKey, custody, encryptedSeed, agentID); err != nil {
		return apperr.Internal("set agent identity fields", err)
	}
	return nil
}

const agentColumns = `
	id, tenant_id, alias, display_name, kind, access_policy,
	did, public_key, custody, encrypted_seed, lifetime, status,
	successor_agent_id, created_at, deleted_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.TenantID, &a.Alias, &a.DisplayName, &a.Kind, &a.AccessPolicy,
		&a.DID, &a.PublicKey, &a.Custody, &a.EncryptedSeed, &a.Lifetime, &a.Status,
		&a.SuccessorAgentID, &a.CreatedAt, &a.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PostgresRepository) GetAgentByID(ctx context.Context, tenantID, agentID string) (*models.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM aweb.agents WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`
	a, err := scanAgent(r.queryRow(ctx, q, agentID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("agent", agentID)
	}
	if err != nil {
		return nil, apperr.Internal("scan agent", err)
	}
	return a, nil
}

func (r *PostgresRepository) GetAgentByAlias(ctx context.Context, tenantID, alias string) (*models.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM aweb.agents WHERE tenant_id = $1 AND lower(alias) = lower($2) AND deleted_at IS NULL`
	a, err := scanAgent(r.queryRow(ctx, q, tenantID, alias))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("agent", alias)
	}
	if err != nil {
		return nil, apperr.Internal("scan agent", err)
	}
	return a, nil
}

func (r *PostgresRepository) ListAgents(ctx context.Context, tenantID string, includeInternal bool) ([]*models.Agent, error) {
	q := `SELECT ` + agentColumns + ` FROM aweb.agents WHERE tenant_id = $1 AND deleted_at IS NULL`
	if !includeInternal {
		q += ` AND kind <> 'human'`
	}
	q += ` ORDER BY alias`
	rows, err := r.query(ctx, q, tenantID)
	if err != nil {
		return nil, apperr.Internal("list agents", err)
	}
	defer rows.Close()
	var out []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, apperr.Internal("scan agent row", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ListLiveAliases(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.query(ctx, `SELECT alias FROM aweb.agents WHERE tenant_id = $1 AND deleted_at IS NULL`, tenantID)
	if err != nil {
		return nil, apperr.Internal("list live aliases", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, apperr.Internal("scan alias", err)
		}
		out = append(out, alias)
	}
	return out, rows.Err()
}

// WithAgentLock opens a transaction, takes a row lock on the agent with
// SELECT ... FOR UPDATE, and runs fn with a repository bound to that
// transaction so every write inside fn is part of the same atomic unit.
func (r *PostgresRepository) WithAgentLock(ctx context.Context, tenantID, agentID string, fn func(ctx context.Context, tx Repository, agent *models.Agent) error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		q := `SELECT ` + agentColumns + ` FROM aweb.agents WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL FOR UPDATE`
		a, err := scanAgent(tx.QueryRow(ctx, q, agentID, tenantID))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("agent", agentID)
		}
		if err != nil {
			return apperr.Internal("lock agent row", err)
		}
		txRepo := &PostgresRepository{pool: r.pool, db: r.db, querier: tx}
		return fn(ctx, txRepo, a)
	})
}

func (r *PostgresRepository) UpdateAgentAccessPolicy(ctx context.Context, tenantID, agentID, policy string) error {
	ct, err := r.pool.Exec(ctx, `UPDATE aweb.agents SET access_policy = $1 WHERE id = $2 AND tenant_id = $3 AND deleted_at IS NULL`, policy, agentID, tenantID)
	if err != nil {
		return apperr.Internal("update access policy", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("agent", agentID)
	}
	return nil
}

func (r *PostgresRepository) RotateAgent(ctx context.Context, agentID string, newDID string, newPublicKey []byte, newCustody *string, newEncryptedSeed []byte) error {
	const q = `
		UPDATE aweb.agents
		SET did = $1, public_key = $2, custody = $3, encrypted_seed = $4
		WHERE id = $5`
	return r.exec(ctx, q, newDID, newPublicKey, newCustody, newEncryptedSeed, agentID)
}

func (r *PostgresRepository) RetireAgent(ctx context.Context, agentID, successorAgentID string) error {
	const q = `UPDATE aweb.agents SET status = 'retired', successor_agent_id = $1 WHERE id = $2`
	return r.exec(ctx, q, successorAgentID, agentID)
}

func (r *PostgresRepository) DeregisterAgent(ctx context.Context, agentID string, deletedAt time.Time) error {
	const q = `
		UPDATE aweb.agents
		SET status = 'deregistered', deleted_at = $1, custody = NULL, encrypted_seed = NULL
		WHERE id = $2`
	return r.exec(ctx, q, deletedAt, agentID)
}

func (r *PostgresRepository) AppendAgentLog(ctx context.Context, e *models.AgentLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return apperr.Internal("marshal agent log metadata", err)
	}
	const q = `
		INSERT INTO aweb.agent_log_entries (
			id, agent_id, tenant_id, operation, prior_did, new_did, signer_did, entry_signature, metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	return r.exec(ctx, q, e.ID, e.AgentID, e.TenantID, e.Operation, e.PriorDID, e.NewDID, e.SignerDID, e.EntrySignature, meta, e.CreatedAt)
}

func (r *PostgresRepository) ListAgentLog(ctx context.Context, tenantID, agentID string, limit int) ([]*models.AgentLogEntry, error) {
	const q = `
		SELECT id, agent_id, tenant_id, operation, prior_did, new_did, signer_did, entry_signature, metadata, created_at
		FROM aweb.agent_log_entries
		WHERE tenant_id = $1 AND agent_id = $2
		ORDER BY created_at DESC
		LIMIT $3`
	rows, err := r.query(ctx, q, tenantID, agentID, limit)
	if err != nil {
		return nil, apperr.Internal("list agent log", err)
	}
	defer rows.Close()
	var out []*models.AgentLogEntry
	for rows.Next() {
		var e models.AgentLogEntry
		var meta []byte
		if err := rows.Scan(&e.ID, &e.AgentID, &e.TenantID, &e.Operation, &e.PriorDID, &e.NewDID, &e.SignerDID, &e.EntrySignature, &meta, &e.CreatedAt); err != nil {
			return nil, apperr.Internal("scan agent log row", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, apperr.Internal("unmarshal agent log metadata", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) InsertRotationAnnouncement(ctx context.Context, a *models.RotationAnnouncement) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO aweb.rotation_announcements (id, agent_id, prior_did, new_did, rotated_at, signature, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	return r.exec(ctx, q, a.ID, a.AgentID, a.PriorDID, a.NewDID, a.RotatedAt, a.Signature, a.CreatedAt)
}

func (r *PostgresRepository) EarliestUnackedAnnouncement(ctx context.Context, senderAgentID, recipientAgentID string, window time.Duration, now time.Time) (*models.RotationAnnouncement, error) {
	const q = `
		SELECT ra.id, ra.agent_id, ra.prior_did, ra.new_did, ra.rotated_at, ra.signature, ra.created_at
		FROM aweb.rotation_announcements ra
		WHERE ra.agent_id = $1
		  AND ra.created_at >= $2
		  AND NOT EXISTS (
		    SELECT 1 FROM aweb.rotation_peer_acks rpa
		    WHERE rpa.announcement_id = ra.id AND rpa.peer_agent_id = $3
		  )
		ORDER BY ra.created_at ASC
		LIMIT 1`
	cutoff := now.Add(-window)
	var a models.RotationAnnouncement
	err := r.queryRow(ctx, q, senderAgentID, cutoff, recipientAgentID).Scan(
		&a.ID, &a.AgentID, &a.PriorDID, &a.NewDID, &a.RotatedAt, &a.Signature, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("earliest unacked announcement", err)
	}
	return &a, nil
}

func (r *PostgresRepository) AckAnnouncementsFromSender(ctx context.Context, senderAgentID, recipientAgentID string, now time.Time) error {
	const q = `
		INSERT INTO aweb.rotation_peer_acks (announcement_id, peer_agent_id, acknowledged_at)
		SELECT ra.id, $2, $3
		FROM aweb.rotation_announcements ra
		WHERE ra.agent_id = $1
		ON CONFLICT (announcement_id, peer_agent_id) DO NOTHING`
	return r.exec(ctx, q, senderAgentID, recipientAgentID, now)
}

func (r *PostgresRepository) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	const q = `
		INSERT INTO aweb.api_keys (id, tenant_id, agent_id, key_hash, display_prefix, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	return r.exec(ctx, q, k.ID, k.TenantID, k.AgentID, k.KeyHash, k.DisplayPrefix, k.Active, k.CreatedAt)
}

func (r *PostgresRepository) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	const q = `
		SELECT id, tenant_id, agent_id, key_hash, display_prefix, active, last_used_at, created_at
		FROM aweb.api_keys WHERE key_hash = $1 AND active`
	var k models.APIKey
	err := r.queryRow(ctx, q, hash).Scan(&k.ID, &k.TenantID, &k.AgentID, &k.KeyHash, &k.DisplayPrefix, &k.Active, &k.LastUsedAt, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("api_key", hash)
	}
	if err != nil {
		return nil, apperr.Internal("scan api key", err)
	}
	return &k, nil
}

func (r *PostgresRepository) TouchAPIKey(ctx context.Context, keyID string, at time.Time) error {
	return r.exec(ctx, `UPDATE aweb.api_keys SET last_used_at = $1 WHERE id = $2`, at, keyID)
}
