package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	contactsrepo "github.com/awebhq/aweb/internal/contacts/repository"
	contactsservice "github.com/awebhq/aweb/internal/contacts/service"
	identitymodels "github.com/awebhq/aweb/internal/identity/models"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
	identityservice "github.com/awebhq/aweb/internal/identity/service"
	"github.com/awebhq/aweb/internal/mail/repository"
	"github.com/awebhq/aweb/internal/mail/service"
	tenantrepo "github.com/awebhq/aweb/internal/tenant/repository"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

type harness struct {
	mail     *service.Service
	identity *identityservice.Service
	iRepo    *identityrepo.MemoryRepository
	tenantID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Default()
	tRepo := tenantrepo.NewMemoryRepository()
	tSvc := tenantservice.New(tRepo, log)
	tenant, err := tSvc.GetOrCreateBySlug(context.Background(), "org-a", "Org A")
	require.NoError(t, err)

	iRepo := identityrepo.NewMemoryRepository()
	iSvc := identityservice.New(iRepo, tSvc, nil, nil, log)

	mRepo := repository.NewMemoryRepository()
	mSvc := service.New(mRepo, iRepo, iSvc, tSvc, nil, nil, log)
	return &harness{mail: mSvc, identity: iSvc, iRepo: iRepo, tenantID: tenant.ID}
}

func (h *harness) createAgent(t *testing.T, alias string) *identitymodels.Agent {
	t.Helper()
	a, err := h.identity.Create(context.Background(), h.tenantID, identityservice.CreateInput{RequestedAlias: alias})
	require.NoError(t, err)
	return a
}

// S1: mail roundtrip — bootstrap alice and bob, alice mails bob, bob's
// inbox shows it unread, bob acks, unread inbox is then empty.
func TestMailRoundtrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createAgent(t, "alice")
	bob := h.createAgent(t, "bob")

	msg, err := h.mail.Deliver(ctx, h.tenantID, service.DeliverInput{
		SenderAgentID:    alice.ID,
		SenderAlias:      "alice",
		RecipientAgentID: bob.ID,
		Subject:          "hi",
		Body:             "hello",
	})
	require.NoError(t, err)
	require.Equal(t, "alice", msg.SenderAlias)

	inbox, err := h.mail.Inbox(ctx, h.tenantID, bob.ID, true, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, "hi", inbox[0].Message.Subject)
	require.Nil(t, inbox[0].Message.ReadAt)

	require.NoError(t, h.mail.Acknowledge(ctx, h.tenantID, bob.ID, msg.ID))

	unread, err := h.mail.Inbox(ctx, h.tenantID, bob.ID, true, 10)
	require.NoError(t, err)
	require.Empty(t, unread)
}

func TestMailAliasSpoofRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createAgent(t, "alice")
	bob := h.createAgent(t, "bob")

	_, err := h.mail.Deliver(ctx, h.tenantID, service.DeliverInput{
		SenderAgentID:    alice.ID,
		SenderAlias:      "not-alice",
		RecipientAgentID: bob.ID,
		Subject:          "hi",
		Body:             "hello",
	})
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeValidationError, appErr.Code)
}

func TestMailToRetiredRecipientIsGoneWithSuccessor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createAgent(t, "alice")
	bob := h.createAgent(t, "bob")
	carol := h.createAgent(t, "carol")

	require.NoError(t, h.iRepo.RetireAgent(ctx, bob.ID, carol.ID))

	_, err := h.mail.Deliver(ctx, h.tenantID, service.DeliverInput{
		SenderAgentID:    alice.ID,
		SenderAlias:      "alice",
		RecipientAgentID: bob.ID,
		Subject:          "hi",
		Body:             "hello",
	})
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeGone, appErr.Code)
	require.Equal(t, "carol", appErr.Extras["successor_alias"])
}

// Cross-tenant delivery goes through the contact gate: a contacts_only
// recipient in another tenant is unreachable until the sender's address is
// on its tenant's allow-list, and the denial reads as not-found.
func TestCrossTenantDeliveryRequiresContactGate(t *testing.T) {
	ctx := context.Background()
	log := logger.Default()
	tRepo := tenantrepo.NewMemoryRepository()
	tSvc := tenantservice.New(tRepo, log)
	orgA, err := tSvc.GetOrCreateBySlug(ctx, "org-a", "Org A")
	require.NoError(t, err)
	orgB, err := tSvc.GetOrCreateBySlug(ctx, "org-b", "Org B")
	require.NoError(t, err)

	iRepo := identityrepo.NewMemoryRepository()
	iSvc := identityservice.New(iRepo, tSvc, nil, nil, log)
	cSvc := contactsservice.New(contactsrepo.NewMemoryRepository(), iRepo, tSvc, log)
	mSvc := service.New(repository.NewMemoryRepository(), iRepo, iSvc, tSvc, cSvc, nil, log)

	alice, err := iSvc.Create(ctx, orgA.ID, identityservice.CreateInput{RequestedAlias: "alice"})
	require.NoError(t, err)
	bob, err := iSvc.Create(ctx, orgB.ID, identityservice.CreateInput{RequestedAlias: "bob", AccessPolicy: identitymodels.AccessContactsOnly})
	require.NoError(t, err)

	in := service.DeliverInput{
		SenderAgentID: alice.ID, SenderAlias: "alice",
		RecipientAgentID: bob.ID, RecipientTenantID: orgB.ID,
		Subject: "hi", Body: "hello",
	}
	_, err = mSvc.Deliver(ctx, orgA.ID, in)
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeNotFound, appErr.Code)

	_, err = cSvc.Add(ctx, orgB.ID, "org-a/alice", "")
	require.NoError(t, err)

	msg, err := mSvc.Deliver(ctx, orgA.ID, in)
	require.NoError(t, err)
	require.Equal(t, orgB.ID, msg.TenantID)

	inbox, err := mSvc.Inbox(ctx, orgB.ID, bob.ID, true, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, "alice", inbox[0].Message.SenderAlias)
}

// S6: rotation announcement lifecycle — alice rotates, mails bob (carries
// the announcement); bob replies (acks it); alice's next mail carries none.
func TestMailRotationAnnouncementLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createAgent(t, "alice")
	bob := h.createAgent(t, "bob")

	oldDID, oldPub, oldSeed := mustKeypair(t)
	require.NoError(t, h.iRepo.SetAgentIdentityFields(ctx, alice.ID, "", "agent", identitymodels.AccessOpen, identitymodels.LifetimePersistent, &oldDID, oldPub, nil, nil))
	_ = oldSeed

	newDID, newPub, newSig, ts := mustRotationFixture(t, oldSeed, oldDID)
	_, err := h.identity.Rotate(ctx, h.tenantID, alice.ID, newDID, newPub, "", newSig, ts)
	require.NoError(t, err)

	msg1, err := h.mail.Deliver(ctx, h.tenantID, service.DeliverInput{
		SenderAgentID: alice.ID, SenderAlias: "alice", RecipientAgentID: bob.ID,
		Subject: "s1", Body: "b1",
	})
	require.NoError(t, err)
	inbox, err := h.mail.Inbox(ctx, h.tenantID, bob.ID, false, 10)
	require.NoError(t, err)
	require.NotNil(t, inbox[0].Announcement)
	require.Equal(t, msg1.ID, inbox[0].Message.ID)

	_, err = h.mail.Deliver(ctx, h.tenantID, service.DeliverInput{
		SenderAgentID: bob.ID, SenderAlias: "bob", RecipientAgentID: alice.ID,
		Subject: "reply", Body: "b2",
	})
	require.NoError(t, err)

	msg3, err := h.mail.Deliver(ctx, h.tenantID, service.DeliverInput{
		SenderAgentID: alice.ID, SenderAlias: "alice", RecipientAgentID: bob.ID,
		Subject: "s3", Body: "b3",
	})
	require.NoError(t, err)
	inbox2, err := h.mail.Inbox(ctx, h.tenantID, bob.ID, false, 10)
	require.NoError(t, err)
	var found *service.InboxEntry
	for i := range inbox2 {
		if inbox2[i].Message.ID == msg3.ID {
			found = &inbox2[i]
		}
	}
	require.NotNil(t, found)
	require.Nil(t, found.Announcement)
}
