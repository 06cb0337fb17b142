// Package service implements the merged mail+chat conversations view:
// every thread or session the querying agent belongs to, reduced to its
// most recent activity and paginated with an opaque timestamp cursor.
package service

import (
	"context"
	"sort"
	"time"

	"github.com/awebhq/aweb/internal/common/stringutil"
	"github.com/awebhq/aweb/internal/conversations/models"
	"github.com/awebhq/aweb/internal/conversations/repository"
)

const (
	previewRunes = 100
	defaultLimit = 50
	maxLimit     = 100
)

// Service answers GET /v1/conversations.
type Service struct {
	repo repository.Repository
}

func New(repo repository.Repository) *Service {
	return &Service{repo: repo}
}

// List merges the agent's mail threads and chat sessions by last activity,
// applies the cursor (an RFC3339 timestamp: only conversations strictly
// older are returned), and caps the page at limit.
func (s *Service) List(ctx context.Context, tenantID, agentID, cursor string, limit int) (*models.Page, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var cursorAt time.Time
	if cursor != "" {
		if t, err := time.Parse(time.RFC3339Nano, cursor); err == nil {
			cursorAt = t
		}
	}

	threads, err := s.repo.ListMailThreads(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.repo.ListChatSessions(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}

	threadIDs := make([]string, len(threads))
	for i, t := range threads {
		threadIDs[i] = t.ConversationID
	}
	sessionIDs := make([]string, len(sessions))
	for i, c := range sessions {
		sessionIDs[i] = c.ConversationID
	}

	mailParticipants, err := s.repo.ParticipantAliasesForThreads(ctx, tenantID, threadIDs)
	if err != nil {
		return nil, err
	}
	chatParticipants, err := s.repo.ParticipantAliasesForSessions(ctx, sessionIDs)
	if err != nil {
		return nil, err
	}

	combined := make([]models.Conversation, 0, len(threads)+len(sessions))
	for _, t := range threads {
		combined = append(combined, models.Conversation{
			Kind:               models.KindMail,
			ConversationID:     t.ConversationID,
			Participants:       mailParticipants[t.ConversationID],
			Subject:            t.Subject,
			LastMessageAt:      t.LastMessageAt,
			LastMessageFrom:    t.LastFromAlias,
			LastMessagePreview: stringutil.TruncatePreview(t.LastBody, previewRunes),
			UnreadCount:        t.UnreadCount,
		})
	}
	for _, c := range sessions {
		combined = append(combined, models.Conversation{
			Kind:               models.KindChat,
			ConversationID:     c.ConversationID,
			Participants:       chatParticipants[c.ConversationID],
			LastMessageAt:      c.LastMessageAt,
			LastMessageFrom:    c.LastFromAlias,
			LastMessagePreview: stringutil.TruncatePreview(c.LastBody, previewRunes),
			UnreadCount:        c.UnreadCount,
		})
	}

	sort.Slice(combined, func(i, j int) bool {
		return combined[i].LastMessageAt.After(combined[j].LastMessageAt)
	})

	if !cursorAt.IsZero() {
		filtered := combined[:0]
		for _, c := range combined {
			if c.LastMessageAt.Before(cursorAt) {
				filtered = append(filtered, c)
			}
		}
		combined = filtered
	}

	page := &models.Page{}
	if len(combined) > limit {
		page.Conversations = combined[:limit]
		page.NextCursor = combined[limit-1].LastMessageAt.Format(time.RFC3339Nano)
	} else {
		page.Conversations = combined
	}
	return page, nil
}
