package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/mail/models"
)

// MemoryRepository is an in-memory fake Repository for unit tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	messages map[string]*models.Message
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{messages: make(map[string]*models.Message)}
}

func (r *MemoryRepository) InsertMessage(_ context.Context, m *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.messages[m.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetMessageByID(_ context.Context, tenantID, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	if !ok || m.TenantID != tenantID {
		return nil, apperr.NotFound("message", id)
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryRepository) ListInbox(_ context.Context, tenantID, recipientAgentID string, unreadOnly bool, limit int) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Message
	for _, m := range r.messages {
		if m.TenantID != tenantID || m.RecipientAgentID != recipientAgentID {
			continue
		}
		if unreadOnly && m.ReadAt != nil {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkRead(_ context.Context, tenantID, recipientAgentID, messageID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[messageID]
	if !ok || m.TenantID != tenantID || m.RecipientAgentID != recipientAgentID {
		return apperr.NotFound("message", messageID)
	}
	if m.ReadAt == nil {
		t := now
		m.ReadAt = &t
	}
	return nil
}
