package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/mail/models"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository builds a PostgresRepository over an existing pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const messageColumns = `
	id, tenant_id, sender_agent_id, sender_alias, recipient_agent_id,
	subject, body, priority, thread_id, from_did, to_did, signature,
	signing_key_id, created_at, read_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.TenantID, &m.SenderAgentID, &m.SenderAlias, &m.RecipientAgentID,
		&m.Subject, &m.Body, &m.Priority, &m.ThreadID, &m.FromDID, &m.ToDID, &m.Signature,
		&m.SigningKeyID, &m.CreatedAt, &m.ReadAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PostgresRepository) InsertMessage(ctx context.Context, m *models.Message) error {
	const q = `
		INSERT INTO aweb.mail_messages (
			id, tenant_id, sender_agent_id, sender_alias, recipient_agent_id,
			subject, body, priority, thread_id, from_did, to_did, signature,
			signing_key_id, created_at, read_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err := r.pool.Exec(ctx, q, m.ID, m.TenantID, m.SenderAgentID, m.SenderAlias, m.RecipientAgentID,
		m.Subject, m.Body, m.Priority, m.ThreadID, m.FromDID, m.ToDID, m.Signature,
		m.SigningKeyID, m.CreatedAt, m.ReadAt)
	if err != nil {
		return apperr.Internal("insert mail message", err)
	}
	return nil
}

func (r *PostgresRepository) GetMessageByID(ctx context.Context, tenantID, id string) (*models.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM aweb.mail_messages WHERE id = $1 AND tenant_id = $2`
	m, err := scanMessage(r.pool.QueryRow(ctx, q, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("message", id)
	}
	if err != nil {
		return nil, apperr.Internal("scan mail message", err)
	}
	return m, nil
}

func (r *PostgresRepository) ListInbox(ctx context.Context, tenantID, recipientAgentID string, unreadOnly bool, limit int) ([]*models.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM aweb.mail_messages WHERE tenant_id = $1 AND recipient_agent_id = $2`
	args := []any{tenantID, recipientAgentID}
	if unreadOnly {
		q += ` AND read_at IS NULL`
	}
	q += ` ORDER BY created_at DESC LIMIT $3`
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperr.Internal("list inbox", err)
	}
	defer rows.Close()
	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Internal("scan inbox row", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkRead(ctx context.Context, tenantID, recipientAgentID, messageID string, now time.Time) error {
	const q = `
		UPDATE aweb.mail_messages
		SET read_at = COALESCE(read_at, $1)
		WHERE id = $2 AND tenant_id = $3 AND recipient_agent_id = $4`
	ct, err := r.pool.Exec(ctx, q, now, messageID, tenantID, recipientAgentID)
	if err != nil {
		return apperr.Internal("mark mail read", err)
	}
	if ct.RowsAffected() == 0 {
		return apperr.NotFound("message", messageID)
	}
	return nil
}
