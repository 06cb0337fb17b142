package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/awebhq/aweb/internal/chat/models"
	"github.com/awebhq/aweb/internal/common/apperr"
)

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return r.pool.Exec(ctx, sql, args...)
}

func (r *PostgresRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *PostgresRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return r.pool.Query(ctx, sql, args...)
}

func (r *PostgresRepository) InsertSessionIfAbsent(ctx context.Context, tenantID, participantHash, id string, now time.Time) (bool, error) {
	const q = `
		INSERT INTO aweb.chat_sessions (id, tenant_id, participant_hash, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (tenant_id, participant_hash) DO NOTHING`
	ct, err := r.exec(ctx, q, id, tenantID, participantHash, now)
	if err != nil {
		return false, apperr.Internal("insert chat session if absent", err)
	}
	return ct.RowsAffected() > 0, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	if err := row.Scan(&s.ID, &s.TenantID, &s.ParticipantHash, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

const sessionColumns = `id, tenant_id, participant_hash, created_at`

func (r *PostgresRepository) GetSessionByParticipantHash(ctx context.Context, tenantID, participantHash string) (*models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM aweb.chat_sessions WHERE tenant_id = $1 AND participant_hash = $2`
	s, err := scanSession(r.queryRow(ctx, q, tenantID, participantHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("chat_session", participantHash)
	}
	if err != nil {
		return nil, apperr.Internal("scan chat session", err)
	}
	return s, nil
}

func (r *PostgresRepository) GetSessionByID(ctx context.Context, tenantID, sessionID string) (*models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM aweb.chat_sessions WHERE id = $1 AND tenant_id = $2`
	s, err := scanSession(r.queryRow(ctx, q, sessionID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("chat_session", sessionID)
	}
	if err != nil {
		return nil, apperr.Internal("scan chat session", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListSessionsForAgent(ctx context.Context, tenantID, agentID string) ([]*models.Session, error) {
	q := `
		SELECT s.id, s.tenant_id, s.participant_hash, s.created_at
		FROM aweb.chat_sessions s
		JOIN aweb.chat_session_participants p ON p.session_id = s.id
		WHERE s.tenant_id = $1 AND p.agent_id = $2
		ORDER BY s.created_at`
	rows, err := r.query(ctx, q, tenantID, agentID)
	if err != nil {
		return nil, apperr.Internal("list chat sessions for agent", err)
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Internal("scan chat session row", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	const q = `
		INSERT INTO aweb.chat_session_participants (session_id, agent_id, snapshot_alias)
		VALUES ($1,$2,$3)
		ON CONFLICT (session_id, agent_id) DO UPDATE SET snapshot_alias = EXCLUDED.snapshot_alias`
	if _, err := r.exec(ctx, q, p.SessionID, p.AgentID, p.SnapshotAlias); err != nil {
		return apperr.Internal("upsert chat participant", err)
	}
	return nil
}

func (r *PostgresRepository) ListParticipants(ctx context.Context, sessionID string) ([]*models.Participant, error) {
	const q = `SELECT session_id, agent_id, snapshot_alias FROM aweb.chat_session_participants WHERE session_id = $1`
	rows, err := r.query(ctx, q, sessionID)
	if err != nil {
		return nil, apperr.Internal("list chat participants", err)
	}
	defer rows.Close()
	var out []*models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.SessionID, &p.AgentID, &p.SnapshotAlias); err != nil {
			return nil, apperr.Internal("scan chat participant row", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetParticipant(ctx context.Context, sessionID, agentID string) (*models.Participant, error) {
	const q = `SELECT session_id, agent_id, snapshot_alias FROM aweb.chat_session_participants WHERE session_id = $1 AND agent_id = $2`
	var p models.Participant
	err := r.queryRow(ctx, q, sessionID, agentID).Scan(&p.SessionID, &p.AgentID, &p.SnapshotAlias)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("scan chat participant", err)
	}
	return &p, nil
}

const messageColumns = `
	id, session_id, sender_agent_id, canonical_alias, body, sender_leaving, hang_on,
	from_did, to_did, signature, signing_key_id, created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.SessionID, &m.SenderAgentID, &m.CanonicalAlias, &m.Body, &m.SenderLeaving, &m.HangOn,
		&m.FromDID, &m.ToDID, &m.Signature, &m.SigningKeyID, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *PostgresRepository) InsertMessage(ctx context.Context, m *models.Message) error {
	const q = `
		INSERT INTO aweb.chat_messages (
			id, session_id, sender_agent_id, canonical_alias, body, sender_leaving, hang_on,
			from_did, to_did, signature, signing_key_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.exec(ctx, q, m.ID, m.SessionID, m.SenderAgentID, m.CanonicalAlias, m.Body, m.SenderLeaving, m.HangOn,
		m.FromDID, m.ToDID, m.Signature, m.SigningKeyID, m.CreatedAt)
	if err != nil {
		return apperr.Internal("insert chat message", err)
	}
	return nil
}

func (r *PostgresRepository) GetMessageByID(ctx context.Context, sessionID, messageID string) (*models.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM aweb.chat_messages WHERE session_id = $1 AND id = $2`
	m, err := scanMessage(r.queryRow(ctx, q, sessionID, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("chat_message", messageID)
	}
	if err != nil {
		return nil, apperr.Internal("scan chat message", err)
	}
	return m, nil
}

func (r *PostgresRepository) ListMessagesAfter(ctx context.Context, sessionID string, after time.Time, limit int) ([]*models.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM aweb.chat_messages WHERE session_id = $1 AND created_at > $2 ORDER BY created_at ASC LIMIT $3`
	rows, err := r.query(ctx, q, sessionID, after, limit)
	if err != nil {
		return nil, apperr.Internal("list chat messages after", err)
	}
	defer rows.Close()
	var out []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Internal("scan chat message row", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) LastMessage(ctx context.Context, sessionID string) (*models.Message, error) {
	q := `SELECT ` + messageColumns + ` FROM aweb.chat_messages WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`
	m, err := scanMessage(r.queryRow(ctx, q, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("scan last chat message", err)
	}
	return m, nil
}

func (r *PostgresRepository) LatestMessagePerSender(ctx context.Context, sessionID string) (map[string]*models.Message, error) {
	q := `SELECT DISTINCT ON (sender_agent_id) ` + messageColumns + `
		FROM aweb.chat_messages WHERE session_id = $1
		ORDER BY sender_agent_id, created_at DESC`
	rows, err := r.query(ctx, q, sessionID)
	if err != nil {
		return nil, apperr.Internal("latest chat message per sender", err)
	}
	defer rows.Close()
	out := make(map[string]*models.Message)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, apperr.Internal("scan chat message row", err)
		}
		out[m.SenderAgentID] = m
	}
	return out, rows.Err()
}

func (r *PostgresRepository) CountUnreadAfter(ctx context.Context, sessionID, excludeAgentID string, after time.Time) (int, error) {
	const q = `
		SELECT count(*) FROM aweb.chat_messages
		WHERE session_id = $1 AND sender_agent_id <> $2 AND created_at > $3`
	var n int
	if err := r.queryRow(ctx, q, sessionID, excludeAgentID, after).Scan(&n); err != nil {
		return 0, apperr.Internal("count unread chat messages", err)
	}
	return n, nil
}

func (r *PostgresRepository) GetReadReceipt(ctx context.Context, sessionID, agentID string) (*models.ReadReceipt, error) {
	const q = `
		SELECT session_id, agent_id, last_read_message_id, last_read_at
		FROM aweb.chat_read_receipts WHERE session_id = $1 AND agent_id = $2`
	var rr models.ReadReceipt
	err := r.queryRow(ctx, q, sessionID, agentID).Scan(&rr.SessionID, &rr.AgentID, &rr.LastReadMessageID, &rr.LastReadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("scan read receipt", err)
	}
	return &rr, nil
}

// UpsertReadReceiptIfNewer enforces the non-regression invariant by joining
// the existing receipt's referenced message and comparing its created_at
// against the candidate message's created_at, all inside one statement.
func (r *PostgresRepository) UpsertReadReceiptIfNewer(ctx context.Context, sessionID, agentID, messageID string, messageCreatedAt, now time.Time) (bool, error) {
	const q = `
		INSERT INTO aweb.chat_read_receipts (session_id, agent_id, last_read_message_id, last_read_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (session_id, agent_id) DO UPDATE
		SET last_read_message_id = EXCLUDED.last_read_message_id, last_read_at = EXCLUDED.last_read_at
		WHERE NOT EXISTS (
			SELECT 1 FROM aweb.chat_messages m
			WHERE m.id = aweb.chat_read_receipts.last_read_message_id
			  AND m.created_at >= $5
		)`
	ct, err := r.exec(ctx, q, sessionID, agentID, messageID, now, messageCreatedAt)
	if err != nil {
		return false, apperr.Internal("upsert read receipt if newer", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *PostgresRepository) ListOtherReceiptsAfter(ctx context.Context, sessionID, excludeAgentID string, after time.Time, limit int) ([]*models.ReadReceipt, error) {
	const q = `
		SELECT session_id, agent_id, last_read_message_id, last_read_at
		FROM aweb.chat_read_receipts
		WHERE session_id = $1 AND agent_id <> $2 AND last_read_at > $3
		ORDER BY last_read_at ASC
		LIMIT $4`
	rows, err := r.query(ctx, q, sessionID, excludeAgentID, after, limit)
	if err != nil {
		return nil, apperr.Internal("list other read receipts after", err)
	}
	defer rows.Close()
	var out []*models.ReadReceipt
	for rows.Next() {
		var rr models.ReadReceipt
		if err := rows.Scan(&rr.SessionID, &rr.AgentID, &rr.LastReadMessageID, &rr.LastReadAt); err != nil {
			return nil, apperr.Internal("scan read receipt row", err)
		}
		out = append(out, &rr)
	}
	return out, rows.Err()
}
