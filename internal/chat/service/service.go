// Package service implements the Chat Engine: participant-hash
// session formation, message sending with sender read-advance, SSE replay
// and live streaming, and unread/pending queries.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awebhq/aweb/internal/chat/models"
	"github.com/awebhq/aweb/internal/chat/repository"
	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/constants"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/events"
	"github.com/awebhq/aweb/internal/hooks"
	"github.com/awebhq/aweb/internal/identity/crypto"
	identitymodels "github.com/awebhq/aweb/internal/identity/models"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
	identityservice "github.com/awebhq/aweb/internal/identity/service"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

// hangOnExtensionSeconds is the per-hang_on-message extension granted to a
// waiting caller, surfaced to SSE clients as extends_wait_seconds.
const hangOnExtensionSeconds = int(constants.HangOnExtension / time.Second)

// WaitingIndex reports whether an agent is currently registered as waiting
// on a chat reply (backed by the presence component, C4). A nil WaitingIndex
// means "nobody is ever waiting" rather than an error, so chat degrades
// gracefully when presence/Redis is not configured.
type WaitingIndex interface {
	IsWaiting(ctx context.Context, tenantID, sessionID, agentID string) (bool, error)
}

// Service implements session formation, sending, streaming, and read state.
type Service struct {
	repo        repository.Repository
	identity    identityrepo.Repository
	identitySvc *identityservice.Service
	tenantSvc   *tenantservice.Service
	waiting     WaitingIndex
	hooks       *hooks.Dispatcher
	log         *logger.Logger
}

func New(repo repository.Repository, identity identityrepo.Repository, identitySvc *identityservice.Service, tenantSvc *tenantservice.Service, waiting WaitingIndex, hookDispatcher *hooks.Dispatcher, log *logger.Logger) *Service {
	return &Service{repo: repo, identity: identity, identitySvc: identitySvc, tenantSvc: tenantSvc, waiting: waiting, hooks: hookDispatcher, log: log.WithFields()}
}

// ParticipantHash computes the session-identity hash: SHA-256 over the
// comma-joined, sorted, de-duplicated set of member agent ids.
func ParticipantHash(agentIDs []string) string {
	seen := make(map[string]struct{}, len(agentIDs))
	unique := make([]string, 0, len(agentIDs))
	for _, id := range agentIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Strings(unique)
	sum := sha256.Sum256([]byte(strings.Join(unique, ",")))
	return hex.EncodeToString(sum[:])
}

// EnsureSession finds or creates the session for exactly this participant
// set and snapshots each participant's current alias.
func (s *Service) EnsureSession(ctx context.Context, tenantID string, agentIDs []string) (*models.Session, error) {
	distinct := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		distinct[id] = struct{}{}
	}
	if len(distinct) < 2 {
		return nil, apperr.ValidationError("participants", "a chat session requires at least two distinct agents")
	}
	hash := ParticipantHash(agentIDs)
	id := uuid.NewString()
	now := time.Now().UTC()

	inserted, err := s.repo.InsertSessionIfAbsent(ctx, tenantID, hash, id, now)
	if err != nil {
		return nil, err
	}
	var session *models.Session
	if inserted {
		session = &models.Session{ID: id, TenantID: tenantID, ParticipantHash: hash, CreatedAt: now}
	} else {
		session, err = s.repo.GetSessionByParticipantHash(ctx, tenantID, hash)
		if err != nil {
			return nil, apperr.Internal("session creation failed", err)
		}
	}

	seen := make(map[string]struct{}, len(agentIDs))
	for _, agentID := range agentIDs {
		if _, ok := seen[agentID]; ok {
			continue
		}
		seen[agentID] = struct{}{}
		agent, err := s.identity.GetAgentByID(ctx, tenantID, agentID)
		if err != nil {
			return nil, err
		}
		if err := s.repo.UpsertParticipant(ctx, &models.Participant{
			SessionID: session.ID, AgentID: agent.ID, SnapshotAlias: agent.Alias,
		}); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// VerifyParticipant confirms the session exists in tenant scope and the
// actor is a member of it, returning both the session and the actor's
// participant row (with its snapshot alias).
func (s *Service) VerifyParticipant(ctx context.Context, tenantID, sessionID, actorAgentID string) (*models.Session, *models.Participant, error) {
	session, err := s.repo.GetSessionByID(ctx, tenantID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	participant, err := s.repo.GetParticipant(ctx, session.ID, actorAgentID)
	if err != nil {
		return nil, nil, err
	}
	if participant == nil {
		return nil, nil, apperr.ForbiddenForActor("actor is not a participant of this session")
	}
	return session, participant, nil
}

// SendInput carries the fields of a chat send request.
type SendInput struct {
	ActorAgentID string
	Body         string
	Leaving      bool
	HangOn       bool
	// Signature, if non-empty, is used as-is; otherwise custodial
	// sign-on-behalf is attempted.
	Signature string
}

// Send inserts a chat message under the actor's session-snapshotted alias
// and auto-advances the sender's own read receipt to the new message.
func (s *Service) Send(ctx context.Context, tenantID, sessionID string, in SendInput) (*models.Message, error) {
	session, participant, err := s.VerifyParticipant(ctx, tenantID, sessionID, in.ActorAgentID)
	if err != nil {
		return nil, err
	}

	actor, err := s.identity.GetAgentByID(ctx, tenantID, in.ActorAgentID)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenantSvc.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	messageID := uuid.NewString()
	now := time.Now().UTC()

	fromDID := ""
	if actor.DID != nil {
		fromDID = *actor.DID
	}

	signature := in.Signature
	if signature == "" && actor.Custody != nil && *actor.Custody == identitymodels.CustodyCustodial {
		payload, err := crypto.CanonicalPayload(map[string]any{
			"body":      in.Body,
			"from":      tenant.Slug + "/" + participant.SnapshotAlias,
			"from_did":  fromDID,
			"subject":   "",
			"timestamp": now.Format(time.RFC3339),
			"to":        tenant.Slug + "/" + session.ID,
			"to_did":    "",
			"type":      "chat",
		})
		if err != nil {
			return nil, apperr.Internal("canonicalize chat payload", err)
		}
		sig, ok, err := s.identitySvc.SignOnBehalfIfCustodial(actor, payload)
		if err != nil {
			return nil, apperr.Internal("sign chat message on behalf", err)
		}
		if ok {
			signature = sig
		}
	}

	msg := &models.Message{
		ID:             messageID,
		SessionID:      session.ID,
		SenderAgentID:  actor.ID,
		CanonicalAlias: participant.SnapshotAlias,
		Body:           in.Body,
		SenderLeaving:  in.Leaving,
		HangOn:         in.HangOn,
		CreatedAt:      now,
	}
	if fromDID != "" {
		msg.FromDID = &fromDID
	}
	if signature != "" {
		msg.Signature = &signature
		msg.SigningKeyID = msg.FromDID
	}

	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if _, err := s.repo.UpsertReadReceiptIfNewer(ctx, session.ID, actor.ID, msg.ID, msg.CreatedAt, now); err != nil {
		s.log.WithError(err).WithSessionID(session.ID).WithAgentID(actor.ID).Warn("auto-advance sender read receipt")
	}

	if s.hooks != nil {
		s.hooks.Fire(ctx, events.ChatMessageSent, map[string]any{
			"tenant_id":  tenantID,
			"session_id": session.ID,
			"message_id": msg.ID,
			"sender_id":  actor.ID,
		})
	}
	return msg, nil
}

// MarkRead upserts the actor's read receipt to upToMessageID, enforced in
// message time so clock skew or out-of-order calls can never regress it.
// It returns the number of messages from other senders that were pending
// before this mark, for the caller to report.
func (s *Service) MarkRead(ctx context.Context, tenantID, sessionID, actorAgentID, upToMessageID string) (pendingBefore int, err error) {
	session, _, err := s.VerifyParticipant(ctx, tenantID, sessionID, actorAgentID)
	if err != nil {
		return 0, err
	}

	msg, err := s.repo.GetMessageByID(ctx, session.ID, upToMessageID)
	if err != nil {
		return 0, err
	}

	existing, err := s.repo.GetReadReceipt(ctx, session.ID, actorAgentID)
	if err != nil {
		return 0, err
	}
	since := time.Time{}
	if existing != nil {
		since = existing.LastReadAt
	}
	pendingBefore, err = s.repo.CountUnreadAfter(ctx, session.ID, actorAgentID, since)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	if _, err := s.repo.UpsertReadReceiptIfNewer(ctx, session.ID, actorAgentID, msg.ID, msg.CreatedAt, now); err != nil {
		return pendingBefore, err
	}
	return pendingBefore, nil
}

// PendingEntry summarizes a session's state for an actor's pending list.
type PendingEntry struct {
	Session       *models.Session
	Participants  []*models.Participant
	LastMessage   *models.Message
	SenderWaiting bool
	UnreadCount   int
	// TargetsLeft holds the aliases of participants whose most recent
	// message announced they were leaving.
	TargetsLeft []string
}

// Pending lists sessions that still need the actor's attention: unread
// messages from someone else, or another participant waiting on a reply —
// a session with nothing outstanding drops out of this list once the actor
// has replied.
func (s *Service) Pending(ctx context.Context, tenantID, actorAgentID string) ([]PendingEntry, error) {
	sessions, err := s.repo.ListSessionsForAgent(ctx, tenantID, actorAgentID)
	if err != nil {
		return nil, err
	}
	out := make([]PendingEntry, 0, len(sessions))
	for _, session := range sessions {
		entry, err := s.pendingEntryFor(ctx, tenantID, session, actorAgentID)
		if err != nil {
			return nil, err
		}
		if entry.UnreadCount == 0 && !entry.SenderWaiting {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// List returns every session the actor participates in, regardless of
// unread/waiting state, for GET /v1/chat/sessions.
func (s *Service) List(ctx context.Context, tenantID, actorAgentID string) ([]PendingEntry, error) {
	sessions, err := s.repo.ListSessionsForAgent(ctx, tenantID, actorAgentID)
	if err != nil {
		return nil, err
	}
	out := make([]PendingEntry, 0, len(sessions))
	for _, session := range sessions {
		entry, err := s.pendingEntryFor(ctx, tenantID, session, actorAgentID)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Service) pendingEntryFor(ctx context.Context, tenantID string, session *models.Session, actorAgentID string) (PendingEntry, error) {
	participants, err := s.repo.ListParticipants(ctx, session.ID)
	if err != nil {
		return PendingEntry{}, err
	}
	last, err := s.repo.LastMessage(ctx, session.ID)
	if err != nil {
		return PendingEntry{}, err
	}
	receipt, err := s.repo.GetReadReceipt(ctx, session.ID, actorAgentID)
	if err != nil {
		return PendingEntry{}, err
	}
	since := time.Time{}
	if receipt != nil {
		since = receipt.LastReadAt
	}
	unread, err := s.repo.CountUnreadAfter(ctx, session.ID, actorAgentID, since)
	if err != nil {
		return PendingEntry{}, err
	}

	waiting := false
	if s.waiting != nil {
		for _, p := range participants {
			if p.AgentID == actorAgentID {
				continue
			}
			w, err := s.waiting.IsWaiting(ctx, tenantID, session.ID, p.AgentID)
			if err != nil {
				s.log.WithError(err).WithTenantID(tenantID).WithSessionID(session.ID).Warn("check waiting index")
				continue
			}
			if w {
				waiting = true
				break
			}
		}
	}

	left, err := s.targetsLeft(ctx, session.ID, participants)
	if err != nil {
		return PendingEntry{}, err
	}

	return PendingEntry{
		Session: session, Participants: participants, LastMessage: last,
		SenderWaiting: waiting, UnreadCount: unread, TargetsLeft: left,
	}, nil
}

// TargetsLeft returns the aliases of participants whose most recent
// message in the session carried sender_leaving.
func (s *Service) TargetsLeft(ctx context.Context, tenantID, sessionID string) ([]string, error) {
	session, err := s.repo.GetSessionByID(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	participants, err := s.repo.ListParticipants(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	return s.targetsLeft(ctx, session.ID, participants)
}

func (s *Service) targetsLeft(ctx context.Context, sessionID string, participants []*models.Participant) ([]string, error) {
	latest, err := s.repo.LatestMessagePerSender(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var left []string
	for _, p := range participants {
		if m, ok := latest[p.AgentID]; ok && m.SenderLeaving {
			left = append(left, p.SnapshotAlias)
		}
	}
	return left, nil
}

// History returns a session's messages created after `after`, ascending,
// capped at limit, verifying the actor is a participant first.
func (s *Service) History(ctx context.Context, tenantID, sessionID, actorAgentID string, after time.Time, limit int) ([]*models.Message, error) {
	session, _, err := s.VerifyParticipant(ctx, tenantID, sessionID, actorAgentID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListMessagesAfter(ctx, session.ID, after, limit)
}

// StreamEvent is one SSE event emitted by Stream: either a message event or
// a read_receipt event, never both.
type StreamEvent struct {
	Message            *models.Message
	Receipt            *models.ReadReceipt
	ReaderAlias        string
	ExtendsWaitSeconds int
}

// replayLimit bounds the SSE replay phase.
const replayLimit = constants.ReplayLimit

// Replay returns the backlog of messages newer than after for the stream's
// replay phase, ascending, capped at replayLimit. The caller (HTTP handler)
// is responsible for the keep-alive comment and the live poll loop, since
// those are transport concerns outside the service layer.
func (s *Service) Replay(ctx context.Context, tenantID, sessionID, actorAgentID string, after time.Time) ([]*models.Message, error) {
	session, _, err := s.VerifyParticipant(ctx, tenantID, sessionID, actorAgentID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMessagesAfter(ctx, session.ID, after, replayLimit)
}

// liveMessageLimit and liveReceiptLimit bound a single live-poll tick.
const liveMessageLimit = constants.LivePollLimit
const liveReceiptLimit = constants.LivePollLimit

// PollTick performs one live-poll iteration: new messages since
// lastMessageAt and new read receipts from other participants since
// lastReceiptAt, each advancing its own cursor.
func (s *Service) PollTick(ctx context.Context, tenantID, sessionID, actorAgentID string, lastMessageAt, lastReceiptAt time.Time) (messages []*models.Message, receipts []StreamEvent, newLastMessageAt, newLastReceiptAt time.Time, err error) {
	session, err := s.repo.GetSessionByID(ctx, tenantID, sessionID)
	if err != nil {
		return nil, nil, lastMessageAt, lastReceiptAt, err
	}

	messages, err = s.repo.ListMessagesAfter(ctx, session.ID, lastMessageAt, liveMessageLimit)
	if err != nil {
		return nil, nil, lastMessageAt, lastReceiptAt, err
	}
	newLastMessageAt = lastMessageAt
	if len(messages) > 0 {
		newLastMessageAt = messages[len(messages)-1].CreatedAt
	}

	rawReceipts, err := s.repo.ListOtherReceiptsAfter(ctx, session.ID, actorAgentID, lastReceiptAt, liveReceiptLimit)
	if err != nil {
		return nil, nil, newLastMessageAt, lastReceiptAt, err
	}
	participants, err := s.repo.ListParticipants(ctx, session.ID)
	if err != nil {
		return nil, nil, newLastMessageAt, lastReceiptAt, err
	}
	aliasByAgent := make(map[string]string, len(participants))
	for _, p := range participants {
		aliasByAgent[p.AgentID] = p.SnapshotAlias
	}

	newLastReceiptAt = lastReceiptAt
	for _, rr := range rawReceipts {
		receipts = append(receipts, StreamEvent{
			Receipt:            rr,
			ReaderAlias:        aliasByAgent[rr.AgentID],
			ExtendsWaitSeconds: hangOnExtensionSeconds,
		})
		if rr.LastReadAt.After(newLastReceiptAt) {
			newLastReceiptAt = rr.LastReadAt
		}
	}
	return messages, receipts, newLastMessageAt, newLastReceiptAt, nil
}

// ExtendHangOnDeadline returns a new wait deadline for a send_and_wait loop
// that just observed a hang_on message: the original deadline extended by
// hangOnExtensionSeconds, clamped so the total extension from start never
// exceeds the absolute cap.
func ExtendHangOnDeadline(start, currentDeadline time.Time) time.Time {
	maxDeadline := start.Add(constants.HangOnExtensionCap)
	extended := currentDeadline.Add(constants.HangOnExtension)
	if extended.After(maxDeadline) {
		return maxDeadline
	}
	return extended
}
