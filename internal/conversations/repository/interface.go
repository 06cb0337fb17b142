package repository

import (
	"context"
	"time"
)

// MailThread is one grouped-by-thread row over aweb.mail_messages.
type MailThread struct {
	ConversationID string    `db:"conversation_id"`
	LastMessageAt  time.Time `db:"last_message_at"`
	LastBody       string    `db:"last_body"`
	LastFromAlias  string    `db:"last_from_alias"`
	Subject        string    `db:"subject"`
	UnreadCount    int       `db:"unread_count"`
}

// ChatSession is one chat session row with its most recent message and
// the requesting agent's unread count against it.
type ChatSession struct {
	ConversationID string    `db:"conversation_id"`
	LastMessageAt  time.Time `db:"last_message_at"`
	LastBody       string    `db:"last_body"`
	LastFromAlias  string    `db:"last_from_alias"`
	UnreadCount    int       `db:"unread_count"`
}

// Repository is the read-only query surface backing GET /v1/conversations.
// It is intentionally separate from the mail and chat write-path
// repositories: it never mutates state and is free to run against a
// read-replica connection.
type Repository interface {
	// ListMailThreads returns one row per distinct thread_id the agent is
	// a sender or recipient on, most-recent-first.
	ListMailThreads(ctx context.Context, tenantID, agentID string) ([]MailThread, error)
	// ListChatSessions returns one row per chat session the agent
	// participates in that has at least one message, most-recent-first.
	ListChatSessions(ctx context.Context, tenantID, agentID string) ([]ChatSession, error)
	// ParticipantAliasesForThreads batch-resolves the agent aliases
	// involved in each of the given mail thread ids.
	ParticipantAliasesForThreads(ctx context.Context, tenantID string, threadIDs []string) (map[string][]string, error)
	// ParticipantAliasesForSessions batch-resolves the snapshot aliases of
	// every participant in each of the given chat session ids.
	ParticipantAliasesForSessions(ctx context.Context, sessionIDs []string) (map[string][]string, error)
}
