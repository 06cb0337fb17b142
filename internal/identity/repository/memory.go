package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/identity/models"
)

// MemoryRepository is an in-memory fake Repository for unit tests.
type MemoryRepository struct {
	mu            sync.Mutex
	agents        map[string]*models.Agent
	apiKeysByHash map[string]*models.APIKey
	logEntries    []*models.AgentLogEntry
	announcements []*models.RotationAnnouncement
	acks          map[string]map[string]bool // announcementID -> peerAgentID -> true
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		agents:        make(map[string]*models.Agent),
		apiKeysByHash: make(map[string]*models.APIKey),
		acks:          make(map[string]map[string]bool),
	}
}

func (r *MemoryRepository) aliveAlias(tenantID, alias string) bool {
	for _, a := range r.agents {
		if a.TenantID == tenantID && a.DeletedAt == nil && strings.EqualFold(a.Alias, alias) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) InsertAgentIfAliasFree(_ context.Context, tenantID, alias string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aliveAlias(tenantID, alias) {
		return "", false, nil
	}
	id := uuid.NewString()
	r.agents[id] = &models.Agent{
		ID:           id,
		TenantID:     tenantID,
		Alias:        alias,
		Lifetime:     models.LifetimePersistent,
		Status:       models.StatusActive,
		AccessPolicy: models.AccessOpen,
		CreatedAt:    time.Now().UTC(),
	}
	return id, true, nil
}

func (r *MemoryRepository) SetAgentIdentityFields(_ context.Context, agentID, displayName, kind, accessPolicy, lifetime string, did *string, publicKey []byte, custody *string, encryptedSeed []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return apperr.NotFound("agent", agentID)
	}
	a.DisplayName = displayName
	a.Kind = kind
	a.AccessPolicy = accessPolicy
	a.Lifetime = lifetime
	a.DID = did
	a.PublicKey = publicKey
	a.Custody = custody
	a.EncryptedSeed = encryptedSeed
	return nil
}

func (r *MemoryRepository) GetAgentByID(_ context.Context, tenantID, agentID string) (*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok || a.TenantID != tenantID || a.DeletedAt != nil {
		return nil, apperr.NotFound("agent", agentID)
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) GetAgentByAlias(_ context.Context, tenantID, alias string) (*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.agents {
		if a.TenantID == tenantID && a.DeletedAt == nil && strings.EqualFold(a.Alias, alias) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("agent", alias)
}

func (r *MemoryRepository) ListAgents(_ context.Context, tenantID string, includeInternal bool) ([]*models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Agent
	for _, a := range r.agents {
		if a.TenantID != tenantID || a.DeletedAt != nil {
			continue
		}
		if !includeInternal && a.Kind == "human" {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}

func (r *MemoryRepository) ListLiveAliases(_ context.Context, tenantID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.agents {
		if a.TenantID == tenantID && a.DeletedAt == nil {
			out = append(out, a.Alias)
		}
	}
	return out, nil
}

func (r *MemoryRepository) WithAgentLock(ctx context.Context, tenantID, agentID string, fn func(ctx context.Context, tx Repository, agent *models.Agent) error) error {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok || a.TenantID != tenantID || a.DeletedAt != nil {
		r.mu.Unlock()
		return apperr.NotFound("agent", agentID)
	}
	cp := *a
	r.mu.Unlock()
	return fn(ctx, r, &cp)
}

func (r *MemoryRepository) UpdateAgentAccessPolicy(_ context.Context, tenantID, agentID, policy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok || a.TenantID != tenantID || a.DeletedAt != nil {
		return apperr.NotFound("agent", agentID)
	}
	a.AccessPolicy = policy
	return nil
}

func (r *MemoryRepository) RotateAgent(_ context.Context, agentID string, newDID string, newPublicKey []byte, newCustody *string, newEncryptedSeed []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return apperr.NotFound("agent", agentID)
	}
	a.DID = &newDID
	a.PublicKey = newPublicKey
	a.Custody = newCustody
	a.EncryptedSeed = newEncryptedSeed
	return nil
}

func (r *MemoryRepository) RetireAgent(_ context.Context, agentID, successorAgentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return apperr.NotFound("agent", agentID)
	}
	a.Status = models.StatusRetired
	a.SuccessorAgentID = &successorAgentID
	return nil
}

func (r *MemoryRepository) DeregisterAgent(_ context.Context, agentID string, deletedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[agentID]
	if !ok {
		return apperr.NotFound("agent", agentID)
	}
	a.Status = models.StatusDeregistered
	a.DeletedAt = &deletedAt
	a.Custody = nil
	a.EncryptedSeed = nil
	return nil
}

func (r *MemoryRepository) AppendAgentLog(_ context.Context, entry *models.AgentLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	cp := *entry
	r.logEntries = append(r.logEntries, &cp)
	return nil
}

func (r *MemoryRepository) ListAgentLog(_ context.Context, tenantID, agentID string, limit int) ([]*models.AgentLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AgentLogEntry
	for i := len(r.logEntries) - 1; i >= 0; i-- {
		e := r.logEntries[i]
		if e.TenantID == tenantID && e.AgentID == agentID {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertRotationAnnouncement(_ context.Context, a *models.RotationAnnouncement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	cp := *a
	r.announcements = append(r.announcements, &cp)
	return nil
}

func (r *MemoryRepository) EarliestUnackedAnnouncement(_ context.Context, senderAgentID, recipientAgentID string, window time.Duration, now time.Time) (*models.RotationAnnouncement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*models.RotationAnnouncement
	for _, a := range r.announcements {
		if a.AgentID != senderAgentID {
			continue
		}
		if now.Sub(a.CreatedAt) > window {
			continue
		}
		if r.acks[a.ID][recipientAgentID] {
			continue
		}
		candidates = append(candidates, a)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	cp := *candidates[0]
	return &cp, nil
}

func (r *MemoryRepository) AckAnnouncementsFromSender(_ context.Context, senderAgentID, recipientAgentID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.announcements {
		if a.AgentID != senderAgentID {
			continue
		}
		if r.acks[a.ID] == nil {
			r.acks[a.ID] = make(map[string]bool)
		}
		r.acks[a.ID][recipientAgentID] = true
	}
	return nil
}

func (r *MemoryRepository) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	cp := *key
	r.apiKeysByHash[key.KeyHash] = &cp
	return nil
}

func (r *MemoryRepository) GetAPIKeyByHash(_ context.Context, hash string) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.apiKeysByHash[hash]
	if !ok || !k.Active {
		return nil, apperr.NotFound("api_key", hash)
	}
	cp := *k
	return &cp, nil
}

func (r *MemoryRepository) TouchAPIKey(_ context.Context, keyID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.apiKeysByHash {
		if k.ID == keyID {
			k.LastUsedAt = &at
			return nil
		}
	}
	return nil
}
