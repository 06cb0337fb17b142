package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/awebhq/aweb/internal/chat/models"
	"github.com/awebhq/aweb/internal/common/apperr"
)

// MemoryRepository is an in-memory fake Repository for unit tests.
type MemoryRepository struct {
	mu             sync.Mutex
	sessions       map[string]*models.Session
	byHash         map[string]string // tenantID|participantHash -> sessionID
	participants   map[string][]*models.Participant
	messages       map[string][]*models.Message
	receipts       map[string]map[string]*models.ReadReceipt // sessionID -> agentID -> receipt
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions:     make(map[string]*models.Session),
		byHash:       make(map[string]string),
		participants: make(map[string][]*models.Participant),
		messages:     make(map[string][]*models.Message),
		receipts:     make(map[string]map[string]*models.ReadReceipt),
	}
}

func hashKey(tenantID, participantHash string) string { return tenantID + "|" + participantHash }

func (r *MemoryRepository) InsertSessionIfAbsent(_ context.Context, tenantID, participantHash, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hashKey(tenantID, participantHash)
	if _, exists := r.byHash[key]; exists {
		return false, nil
	}
	r.byHash[key] = id
	r.sessions[id] = &models.Session{ID: id, TenantID: tenantID, ParticipantHash: participantHash, CreatedAt: now}
	return true, nil
}

func (r *MemoryRepository) GetSessionByParticipantHash(_ context.Context, tenantID, participantHash string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHash[hashKey(tenantID, participantHash)]
	if !ok {
		return nil, apperr.NotFound("chat_session", participantHash)
	}
	cp := *r.sessions[id]
	return &cp, nil
}

func (r *MemoryRepository) GetSessionByID(_ context.Context, tenantID, sessionID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.TenantID != tenantID {
		return nil, apperr.NotFound("chat_session", sessionID)
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) ListSessionsForAgent(_ context.Context, tenantID, agentID string) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Session
	for sessionID, ps := range r.participants {
		s, ok := r.sessions[sessionID]
		if !ok || s.TenantID != tenantID {
			continue
		}
		for _, p := range ps {
			if p.AgentID == agentID {
				cp := *s
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) UpsertParticipant(_ context.Context, p *models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.participants[p.SessionID]
	for _, existing := range list {
		if existing.AgentID == p.AgentID {
			existing.SnapshotAlias = p.SnapshotAlias
			return nil
		}
	}
	cp := *p
	r.participants[p.SessionID] = append(list, &cp)
	return nil
}

func (r *MemoryRepository) ListParticipants(_ context.Context, sessionID string) ([]*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Participant
	for _, p := range r.participants[sessionID] {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemoryRepository) GetParticipant(_ context.Context, sessionID, agentID string) (*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants[sessionID] {
		if p.AgentID == agentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) InsertMessage(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.messages[m.SessionID] = append(r.messages[m.SessionID], &cp)
	return nil
}

func (r *MemoryRepository) GetMessageByID(_ context.Context, sessionID, messageID string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages[sessionID] {
		if m.ID == messageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("chat_message", messageID)
}

func (r *MemoryRepository) ListMessagesAfter(_ context.Context, sessionID string, after time.Time, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Message
	for _, m := range r.messages[sessionID] {
		if m.CreatedAt.After(after) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) LastMessage(_ context.Context, sessionID string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[sessionID]
	if len(msgs) == 0 {
		return nil, nil
	}
	var last *models.Message
	for _, m := range msgs {
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			last = m
		}
	}
	cp := *last
	return &cp, nil
}

func (r *MemoryRepository) LatestMessagePerSender(_ context.Context, sessionID string) (map[string]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*models.Message)
	for _, m := range r.messages[sessionID] {
		last, ok := out[m.SenderAgentID]
		if !ok || m.CreatedAt.After(last.CreatedAt) {
			cp := *m
			out[m.SenderAgentID] = &cp
		}
	}
	return out, nil
}

func (r *MemoryRepository) CountUnreadAfter(_ context.Context, sessionID, excludeAgentID string, after time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, m := range r.messages[sessionID] {
		if m.SenderAgentID != excludeAgentID && m.CreatedAt.After(after) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) GetReadReceipt(_ context.Context, sessionID, agentID string) (*models.ReadReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byAgent, ok := r.receipts[sessionID]
	if !ok {
		return nil, nil
	}
	rr, ok := byAgent[agentID]
	if !ok {
		return nil, nil
	}
	cp := *rr
	return &cp, nil
}

func (r *MemoryRepository) UpsertReadReceiptIfNewer(_ context.Context, sessionID, agentID, messageID string, messageCreatedAt, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.receipts[sessionID] == nil {
		r.receipts[sessionID] = make(map[string]*models.ReadReceipt)
	}
	existing, ok := r.receipts[sessionID][agentID]
	if ok && existing.LastReadMessageID != nil {
		for _, m := range r.messages[sessionID] {
			if m.ID == *existing.LastReadMessageID && !messageCreatedAt.After(m.CreatedAt) {
				return false, nil
			}
		}
	}
	mid := messageID
	r.receipts[sessionID][agentID] = &models.ReadReceipt{
		SessionID: sessionID, AgentID: agentID, LastReadMessageID: &mid, LastReadAt: now,
	}
	return true, nil
}

func (r *MemoryRepository) ListOtherReceiptsAfter(_ context.Context, sessionID, excludeAgentID string, after time.Time, limit int) ([]*models.ReadReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ReadReceipt
	for agentID, rr := range r.receipts[sessionID] {
		if agentID == excludeAgentID {
			continue
		}
		if rr.LastReadAt.After(after) {
			cp := *rr
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastReadAt.Before(out[j].LastReadAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
