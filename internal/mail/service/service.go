// Package service implements the Mail Pipeline: at-most-once
// delivery with alias-spoofing prevention, per-peer rotation-announcement
// attachment, and idempotent acknowledgement.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/events"
	"github.com/awebhq/aweb/internal/hooks"
	"github.com/awebhq/aweb/internal/identity/crypto"
	identitymodels "github.com/awebhq/aweb/internal/identity/models"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
	identityservice "github.com/awebhq/aweb/internal/identity/service"
	"github.com/awebhq/aweb/internal/mail/models"
	"github.com/awebhq/aweb/internal/mail/repository"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

// AccessGate decides whether a sender address may reach a target agent
// (the contact gate, C9). A nil gate permits same-tenant delivery only.
type AccessGate interface {
	CheckAccess(ctx context.Context, tenantID, targetAgentID, senderAddress string) (bool, error)
}

// Service implements mail delivery, inbox listing, and acknowledgement.
type Service struct {
	repo        repository.Repository
	identity    identityrepo.Repository
	identitySvc *identityservice.Service
	tenantSvc   *tenantservice.Service
	gate        AccessGate
	hooks       *hooks.Dispatcher
	log         *logger.Logger
}

func New(repo repository.Repository, identity identityrepo.Repository, identitySvc *identityservice.Service, tenantSvc *tenantservice.Service, gate AccessGate, hookDispatcher *hooks.Dispatcher, log *logger.Logger) *Service {
	return &Service{repo: repo, identity: identity, identitySvc: identitySvc, tenantSvc: tenantSvc, gate: gate, hooks: hookDispatcher, log: log.WithFields()}
}

// DeliverInput carries the fields of a POST /v1/messages request.
type DeliverInput struct {
	SenderAgentID    string
	SenderAlias      string // claimed; must equal the sender's canonical alias
	RecipientAgentID string
	// RecipientTenantID targets an agent in another tenant (addressed as
	// "slug/alias"); empty means same-tenant delivery. Cross-tenant
	// delivery must pass the contact gate.
	RecipientTenantID string
	Subject           string
	Body              string
	Priority          string
	ThreadID          *string
	// Signature, if non-empty, is used as-is (self-custodial caller already
	// signed); otherwise custodial sign-on-behalf is attempted.
	Signature string
}

// Deliver inserts a mail message, enforcing the alias-spoof defense and
// retired-recipient redirection, and signs-before-observe when the sender
// is custodial.
func (s *Service) Deliver(ctx context.Context, tenantID string, in DeliverInput) (*models.Message, error) {
	if in.SenderAlias == "" {
		return nil, apperr.ValidationError("from_alias", "must not be empty")
	}
	if in.ThreadID != nil && *in.ThreadID == "" {
		return nil, apperr.ValidationError("thread_id", "must not be empty when provided")
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	sender, err := s.identity.GetAgentByID(ctx, tenantID, in.SenderAgentID)
	if err != nil {
		return nil, err
	}
	if sender.Alias != in.SenderAlias {
		return nil, apperr.ValidationError("from_alias", "does not match sender's canonical alias (alias-spoofing defense)")
	}

	recipientTenantID := in.RecipientTenantID
	if recipientTenantID == "" {
		recipientTenantID = tenantID
	}

	recipient, err := s.identity.GetAgentByID(ctx, recipientTenantID, in.RecipientAgentID)
	if err != nil {
		return nil, err
	}
	if recipient.Status == identitymodels.StatusRetired {
		successorAlias := ""
		if recipient.SuccessorAgentID != nil {
			if successor, err := s.identity.GetAgentByID(ctx, recipientTenantID, *recipient.SuccessorAgentID); err == nil {
				successorAlias = successor.Alias
			}
		}
		return nil, apperr.Gone(fmt.Sprintf("recipient '%s' has retired", recipient.Alias), successorAlias)
	}

	senderTenant, err := s.tenantSvc.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	recipientTenant := senderTenant
	if recipientTenantID != tenantID {
		recipientTenant, err = s.tenantSvc.GetByID(ctx, recipientTenantID)
		if err != nil {
			return nil, err
		}
		// Cross-tenant delivery only reaches agents whose contact gate
		// admits the sender's address; a denial reads as not-found so the
		// gate can't be used to probe for aliases.
		if s.gate == nil {
			return nil, apperr.NotFound("agent", recipient.Alias)
		}
		allowed, err := s.gate.CheckAccess(ctx, recipientTenantID, recipient.ID, senderTenant.Slug+"/"+sender.Alias)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, apperr.NotFound("agent", recipient.Alias)
		}
	}

	messageID := uuid.NewString()
	now := time.Now().UTC()
	threadID := in.ThreadID
	if threadID == nil {
		selfHead := messageID
		threadID = &selfHead
	}

	fromDID := ""
	if sender.DID != nil {
		fromDID = *sender.DID
	}
	toDID := ""
	if recipient.DID != nil {
		toDID = *recipient.DID
	}

	signature := in.Signature
	if signature == "" && sender.Custody != nil && *sender.Custody == identitymodels.CustodyCustodial {
		payload, err := crypto.CanonicalPayload(map[string]any{
			"body":      in.Body,
			"from":      senderTenant.Slug + "/" + sender.Alias,
			"from_did":  fromDID,
			"subject":   in.Subject,
			"timestamp": now.Format(time.RFC3339),
			"to":        recipientTenant.Slug + "/" + recipient.Alias,
			"to_did":    toDID,
			"type":      "mail",
		})
		if err != nil {
			return nil, apperr.Internal("canonicalize mail payload", err)
		}
		sig, ok, err := s.identitySvc.SignOnBehalfIfCustodial(sender, payload)
		if err != nil {
			return nil, apperr.Internal("sign mail on behalf", err)
		}
		if ok {
			signature = sig
		}
	}

	msg := &models.Message{
		ID:               messageID,
		TenantID:         recipientTenantID,
		SenderAgentID:    sender.ID,
		SenderAlias:      sender.Alias,
		RecipientAgentID: recipient.ID,
		Subject:          in.Subject,
		Body:             in.Body,
		Priority:         priority,
		ThreadID:         threadID,
		CreatedAt:        now,
	}
	if fromDID != "" {
		msg.FromDID = &fromDID
	}
	if toDID != "" {
		msg.ToDID = &toDID
	}
	if signature != "" {
		msg.Signature = &signature
		msg.SigningKeyID = msg.FromDID
	}

	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}

	// This delivery is mail from sender to recipient; it acks any rotation
	// announcements made by recipient, acknowledged by sender.
	if err := s.identitySvc.AckRotationAnnouncements(ctx, recipient.ID, sender.ID); err != nil {
		s.log.WithError(err).WithTenantID(recipientTenantID).WithAgentID(sender.ID).Warn("ack rotation announcements after mail delivery")
	}

	if s.hooks != nil {
		s.hooks.Fire(ctx, events.MessageSent, map[string]any{
			"tenant_id":    recipientTenantID,
			"message_id":   msg.ID,
			"sender_id":    sender.ID,
			"recipient_id": recipient.ID,
		})
	}

	return msg, nil
}

// InboxEntry pairs a message with its (possibly nil) pending rotation
// announcement for display.
type InboxEntry struct {
	Message      *models.Message
	Announcement *identitymodels.RotationAnnouncement
}

// Inbox returns the actor's mail, most-recent-first, each entry enriched
// with the earliest pending rotation announcement from its sender.
func (s *Service) Inbox(ctx context.Context, tenantID, actorAgentID string, unreadOnly bool, limit int) ([]InboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := s.repo.ListInbox(ctx, tenantID, actorAgentID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	out := make([]InboxEntry, 0, len(msgs))
	for _, m := range msgs {
		ann, err := s.identitySvc.PendingRotationAnnouncement(ctx, m.SenderAgentID, actorAgentID)
		if err != nil {
			s.log.WithError(err).WithTenantID(tenantID).WithAgentID(actorAgentID).Warn("lookup pending rotation announcement")
			ann = nil
		}
		out = append(out, InboxEntry{Message: m, Announcement: ann})
	}
	return out, nil
}

// Acknowledge idempotently marks a message read by its addressed recipient.
func (s *Service) Acknowledge(ctx context.Context, tenantID, actorAgentID, messageID string) error {
	if err := s.repo.MarkRead(ctx, tenantID, actorAgentID, messageID, time.Now().UTC()); err != nil {
		return err
	}
	if s.hooks != nil {
		s.hooks.Fire(ctx, events.MessageAcknowledged, map[string]any{
			"tenant_id":  tenantID,
			"message_id": messageID,
			"actor_id":   actorAgentID,
		})
	}
	return nil
}
