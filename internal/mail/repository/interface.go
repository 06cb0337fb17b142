package repository

import (
	"context"
	"time"

	"github.com/awebhq/aweb/internal/mail/models"
)

// Repository defines storage for mail messages, tenant-scoped throughout.
type Repository interface {
	// InsertMessage writes a fully-formed message row (id/created_at are
	// pre-computed by the service before any signature is produced, so a
	// row is never visible before it is signed).
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessageByID(ctx context.Context, tenantID, id string) (*models.Message, error)
	// ListInbox returns messages addressed to recipientAgentID, most-recent
	// first, optionally filtered to unread, capped at limit.
	ListInbox(ctx context.Context, tenantID, recipientAgentID string, unreadOnly bool, limit int) ([]*models.Message, error)
	// MarkRead sets read_at = COALESCE(read_at, now()) idempotently for a
	// message addressed to recipientAgentID; returns apperr.NotFound if the
	// message does not exist or is not addressed to recipientAgentID.
	MarkRead(ctx context.Context, tenantID, recipientAgentID, messageID string, now time.Time) error
}
