package repository

import (
	"context"
	"time"

	"github.com/awebhq/aweb/internal/chat/models"
)

// Repository defines storage for chat sessions, participants, messages, and
// read receipts, tenant-scoped throughout.
type Repository interface {
	// InsertSessionIfAbsent attempts INSERT ... ON CONFLICT (tenant,
	// participant_hash) DO NOTHING using id as the candidate row id.
	// inserted=false means a row already existed; the caller must then
	// look it up via GetSessionByParticipantHash.
	InsertSessionIfAbsent(ctx context.Context, tenantID, participantHash, id string, now time.Time) (inserted bool, err error)
	GetSessionByParticipantHash(ctx context.Context, tenantID, participantHash string) (*models.Session, error)
	GetSessionByID(ctx context.Context, tenantID, sessionID string) (*models.Session, error)
	ListSessionsForAgent(ctx context.Context, tenantID, agentID string) ([]*models.Session, error)

	// UpsertParticipant inserts a (session, agent) participant row or
	// updates its snapshot alias on conflict.
	UpsertParticipant(ctx context.Context, p *models.Participant) error
	ListParticipants(ctx context.Context, sessionID string) ([]*models.Participant, error)
	// GetParticipant returns the participant row, or nil, nil if the agent
	// is not a member of the session.
	GetParticipant(ctx context.Context, sessionID, agentID string) (*models.Participant, error)

	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessageByID(ctx context.Context, sessionID, messageID string) (*models.Message, error)
	// ListMessagesAfter returns messages with created_at > after (or all,
	// if after is the zero value), ascending, capped at limit.
	ListMessagesAfter(ctx context.Context, sessionID string, after time.Time, limit int) ([]*models.Message, error)
	LastMessage(ctx context.Context, sessionID string) (*models.Message, error)
	// LatestMessagePerSender returns each sender's most recent message in
	// the session, keyed by sender agent id.
	LatestMessagePerSender(ctx context.Context, sessionID string) (map[string]*models.Message, error)
	// CountUnreadAfter counts messages in session sent by someone other
	// than excludeAgentID, with created_at > after.
	CountUnreadAfter(ctx context.Context, sessionID, excludeAgentID string, after time.Time) (int, error)

	GetReadReceipt(ctx context.Context, sessionID, agentID string) (*models.ReadReceipt, error)
	// UpsertReadReceiptIfNewer sets the receipt only if no receipt exists
	// yet, or the existing receipt's last-read message is older (in
	// message time) than newMessageCreatedAt; returns whether it advanced.
	UpsertReadReceiptIfNewer(ctx context.Context, sessionID, agentID, messageID string, messageCreatedAt, now time.Time) (advanced bool, err error)
	// ListOtherReceiptsAfter returns read receipts from participants other
	// than excludeAgentID, with last_read_at > after, ascending.
	ListOtherReceiptsAfter(ctx context.Context, sessionID, excludeAgentID string, after time.Time, limit int) ([]*models.ReadReceipt, error)
}
