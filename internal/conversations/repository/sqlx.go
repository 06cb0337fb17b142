package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// SQLXRepository answers the conversations list query against a
// read-oriented sqlx.DB pool, built with aggregate SQL rather than the
// per-row pgx scanning the write-path repositories use.
type SQLXRepository struct {
	db *sqlx.DB
}

// NewSQLXRepository builds a SQLXRepository over an existing reader pool.
func NewSQLXRepository(db *sqlx.DB) *SQLXRepository {
	return &SQLXRepository{db: db}
}

const listMailThreadsQuery = `
	SELECT
		thread_id AS conversation_id,
		MAX(created_at) AS last_message_at,
		(array_agg(body ORDER BY created_at DESC))[1] AS last_body,
		(array_agg(sender_alias ORDER BY created_at DESC))[1] AS last_from_alias,
		(array_agg(subject ORDER BY created_at DESC))[1] AS subject,
		COUNT(*) FILTER (WHERE recipient_agent_id = $2 AND read_at IS NULL) AS unread_count
	FROM aweb.mail_messages
	WHERE tenant_id = $1 AND (sender_agent_id = $2 OR recipient_agent_id = $2)
	GROUP BY thread_id
	ORDER BY MAX(created_at) DESC`

func (r *SQLXRepository) ListMailThreads(ctx context.Context, tenantID, agentID string) ([]MailThread, error) {
	var rows []MailThread
	if err := r.db.SelectContext(ctx, &rows, listMailThreadsQuery, tenantID, agentID); err != nil {
		return nil, fmt.Errorf("list mail threads: %w", err)
	}
	return rows, nil
}

const listChatSessionsQuery = `
	SELECT
		s.id AS conversation_id,
		lm.created_at AS last_message_at,
		lm.body AS last_body,
		lm.canonical_alias AS last_from_alias,
		COALESCE(unread.cnt, 0) AS unread_count
	FROM aweb.chat_sessions s
	JOIN aweb.chat_session_participants me ON me.session_id = s.id AND me.agent_id = $2
	JOIN LATERAL (
		SELECT body, canonical_alias, created_at
		FROM aweb.chat_messages
		WHERE session_id = s.id
		ORDER BY created_at DESC
		LIMIT 1
	) lm ON true
	LEFT JOIN aweb.chat_read_receipts rr ON rr.session_id = s.id AND rr.agent_id = $2
	LEFT JOIN LATERAL (
		SELECT COUNT(*) AS cnt
		FROM aweb.chat_messages cm
		WHERE cm.session_id = s.id
		  AND cm.sender_agent_id <> $2
		  AND cm.created_at > COALESCE(rr.last_read_at, '-infinity'::timestamptz)
	) unread ON true
	WHERE s.tenant_id = $1
	ORDER BY lm.created_at DESC`

func (r *SQLXRepository) ListChatSessions(ctx context.Context, tenantID, agentID string) ([]ChatSession, error) {
	var rows []ChatSession
	if err := r.db.SelectContext(ctx, &rows, listChatSessionsQuery, tenantID, agentID); err != nil {
		return nil, fmt.Errorf("list chat sessions: %w", err)
	}
	return rows, nil
}

func (r *SQLXRepository) ParticipantAliasesForThreads(ctx context.Context, tenantID string, threadIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(threadIDs))
	if len(threadIDs) == 0 {
		return out, nil
	}
	const base = `
		SELECT m.thread_id AS conversation_id, a.alias
		FROM aweb.mail_messages m
		JOIN aweb.agents a ON a.id IN (m.sender_agent_id, m.recipient_agent_id)
		WHERE m.tenant_id = ? AND m.thread_id IN (?)
		GROUP BY m.thread_id, a.alias
		ORDER BY m.thread_id, a.alias`
	query, args, err := sqlx.In(base, tenantID, threadIDs)
	if err != nil {
		return nil, fmt.Errorf("build thread participants query: %w", err)
	}
	query = r.db.Rebind(query)

	type row struct {
		ConversationID string `db:"conversation_id"`
		Alias          string `db:"alias"`
	}
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list thread participants: %w", err)
	}
	for _, rr := range rows {
		out[rr.ConversationID] = append(out[rr.ConversationID], rr.Alias)
	}
	return out, nil
}

func (r *SQLXRepository) ParticipantAliasesForSessions(ctx context.Context, sessionIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}
	const base = `
		SELECT session_id AS conversation_id, snapshot_alias AS alias
		FROM aweb.chat_session_participants
		WHERE session_id IN (?)
		ORDER BY session_id, snapshot_alias`
	query, args, err := sqlx.In(base, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("build session participants query: %w", err)
	}
	query = r.db.Rebind(query)

	type row struct {
		ConversationID string `db:"conversation_id"`
		Alias          string `db:"alias"`
	}
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list session participants: %w", err)
	}
	for _, rr := range rows {
		out[rr.ConversationID] = append(out[rr.ConversationID], rr.Alias)
	}
	return out, nil
}
