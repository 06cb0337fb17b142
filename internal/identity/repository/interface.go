package repository

import (
	"context"
	"time"

	"github.com/awebhq/aweb/internal/identity/models"
)

// Repository defines storage for agents, API keys, the agent log, and
// rotation announcements/acks. Implementations must enforce tenant
// isolation on every tenant-scoped method.
type Repository interface {
	// InsertAgentIfAliasFree atomically claims an alias within a tenant,
	// inserting a bare active agent row. Used by tenant/service's alias
	// allocator without leaking agent storage concerns into
	// the tenant package.
	InsertAgentIfAliasFree(ctx context.Context, tenantID, alias string) (agentID string, ok bool, err error)

	// SetAgentIdentityFields fills in the identity/profile fields on an
	// agent row that InsertAgentIfAliasFree created bare, completing the
	// "identity-carrying init" half of Create.
	SetAgentIdentityFields(ctx context.Context, agentID, displayName, kind, accessPolicy, lifetime string, did *string, publicKey []byte, custody *string, encryptedSeed []byte) error
	GetAgentByID(ctx context.Context, tenantID, agentID string) (*models.Agent, error)
	GetAgentByAlias(ctx context.Context, tenantID, alias string) (*models.Agent, error)
	ListAgents(ctx context.Context, tenantID string, includeInternal bool) ([]*models.Agent, error)
	ListLiveAliases(ctx context.Context, tenantID string) ([]string, error)

	// WithAgentLock runs fn with a row-level lock held on the agent row,
	// inside a single transaction; fn receives the locked agent and a
	// repository bound to that transaction for further writes.
	WithAgentLock(ctx context.Context, tenantID, agentID string, fn func(ctx context.Context, tx Repository, agent *models.Agent) error) error

	UpdateAgentAccessPolicy(ctx context.Context, tenantID, agentID, policy string) error

	// RotateAgent atomically swaps identity fields and custody, used only
	// from inside WithAgentLock's fn.
	RotateAgent(ctx context.Context, agentID string, newDID string, newPublicKey []byte, newCustody *string, newEncryptedSeed []byte) error
	// RetireAgent sets status=retired and the successor, used only from
	// inside WithAgentLock's fn.
	RetireAgent(ctx context.Context, agentID, successorAgentID string) error
	// DeregisterAgent soft-deletes the row and clears custody, used only
	// from inside WithAgentLock's fn.
	DeregisterAgent(ctx context.Context, agentID string, deletedAt time.Time) error

	AppendAgentLog(ctx context.Context, entry *models.AgentLogEntry) error
	ListAgentLog(ctx context.Context, tenantID, agentID string, limit int) ([]*models.AgentLogEntry, error)

	InsertRotationAnnouncement(ctx context.Context, a *models.RotationAnnouncement) error
	// EarliestUnackedAnnouncement returns the earliest rotation by
	// senderAgentID, within window of now, not yet acked by
	// recipientAgentID. Returns nil, nil if none.
	EarliestUnackedAnnouncement(ctx context.Context, senderAgentID, recipientAgentID string, window time.Duration, now time.Time) (*models.RotationAnnouncement, error)
	// AckAnnouncementsFromSender idempotently inserts acks, recorded as
	// recipientAgentID acking every announcement by senderAgentID.
	AckAnnouncementsFromSender(ctx context.Context, senderAgentID, recipientAgentID string, now time.Time) error

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, keyID string, at time.Time) error
}
