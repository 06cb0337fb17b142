package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/chat/repository"
	"github.com/awebhq/aweb/internal/chat/service"
	"github.com/awebhq/aweb/internal/common/logger"
	identitymodels "github.com/awebhq/aweb/internal/identity/models"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
	identityservice "github.com/awebhq/aweb/internal/identity/service"
	tenantrepo "github.com/awebhq/aweb/internal/tenant/repository"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

type harness struct {
	chat     *service.Service
	identity *identityservice.Service
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

	cRepo := repository.NewMemoryRepository()
	cSvc := service.New(cRepo, iRepo, iSvc, tSvc, nil, nil, log)
	return &harness{chat: cSvc, identity: iSvc, tenantID: tenant.ID}
}

func (h *harness) createAgent(t *testing.T, alias string) *identitymodels.Agent {
	t.Helper()
	a, err := h.identity.Create(context.Background(), h.tenantID, identityservice.CreateInput{RequestedAlias: alias})
	require.NoError(t, err)
	return a
}

// S2: session uniqueness — alice and bob each ensure_session-ing the other's
// pair land on the identical session id regardless of call order.
func TestSessionUniquenessAcrossOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createAgent(t, "alice")
	bob := h.createAgent(t, "bob")

	s1, err := h.chat.EnsureSession(ctx, h.tenantID, []string{alice.ID, bob.ID})
	require.NoError(t, err)

	s2, err := h.chat.EnsureSession(ctx, h.tenantID, []string{bob.ID, alice.ID})
	require.NoError(t, err)

	require.Equal(t, s1.ID, s2.ID)

	m1, err := h.chat.Send(ctx, h.tenantID, s1.ID, service.SendInput{ActorAgentID: alice.ID, Body: "hey"})
	require.NoError(t, err)
	m2, err := h.chat.Send(ctx, h.tenantID, s2.ID, service.SendInput{ActorAgentID: bob.ID, Body: "back"})
	require.NoError(t, err)
	require.NotEqual(t, m1.ID, m2.ID)
}

func TestSessionRequiresTwoDistinctAgents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createAgent(t, "alice")

	_, err := h.chat.EnsureSession(ctx, h.tenantID, []string{alice.ID, alice.ID})
	require.Error(t, err)
}

// S3: read-receipt advance by reply — alice sends, pending shows unread=1
// for bob; bob replies, his own pending view no longer lists the session.
func TestPendingOmitsSessionAfterReply(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createAgent(t, "alice")
	bob := h.createAgent(t, "bob")

	session, err := h.chat.EnsureSession(ctx, h.tenantID, []string{alice.ID, bob.ID})
	require.NoError(t, err)

	_, err = h.chat.Send(ctx, h.tenantID, session.ID, service.SendInput{ActorAgentID: alice.ID, Body: "hey"})
	require.NoError(t, err)

	pending, err := h.chat.Pending(ctx, h.tenantID, bob.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].UnreadCount)

	_, err = h.chat.Send(ctx, h.tenantID, session.ID, service.SendInput{ActorAgentID: bob.ID, Body: "replying"})
	require.NoError(t, err)

	pendingAfter, err := h.chat.Pending(ctx, h.tenantID, bob.ID)
	require.NoError(t, err)
	require.Empty(t, pendingAfter)
}

// S4 (service-level): replay returns backlog after a cursor, and a
// subsequent live poll tick picks up a message sent after replay plus the
// read receipt emitted once the reader marks it read.
func TestReplayThenLivePollEmitsMessageAndReceipt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createAgent(t, "alice")
	bob := h.createAgent(t, "bob")

	session, err := h.chat.EnsureSession(ctx, h.tenantID, []string{alice.ID, bob.ID})
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	m1, err := h.chat.Send(ctx, h.tenantID, session.ID, service.SendInput{ActorAgentID: alice.ID, Body: "m1"})
	require.NoError(t, err)

	replayed, err := h.chat.Replay(ctx, h.tenantID, session.ID, bob.ID, past)
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	require.Equal(t, m1.ID, replayed[0].ID)

	lastMessageAt := m1.CreatedAt
	lastReceiptAt := time.Time{}

	m2, err := h.chat.Send(ctx, h.tenantID, session.ID, service.SendInput{ActorAgentID: alice.ID, Body: "m2"})
	require.NoError(t, err)

	msgs, _, newLastMessageAt, _, err := h.chat.PollTick(ctx, h.tenantID, session.ID, bob.ID, lastMessageAt, lastReceiptAt)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, m2.ID, msgs[0].ID)
	lastMessageAt = newLastMessageAt

	_, err = h.chat.MarkRead(ctx, h.tenantID, session.ID, alice.ID, m2.ID)
	require.NoError(t, err)

	_, receipts, _, newLastReceiptAt, err := h.chat.PollTick(ctx, h.tenantID, session.ID, bob.ID, lastMessageAt, lastReceiptAt)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.Equal(t, "alice", receipts[0].ReaderAlias)
	require.Equal(t, m2.ID, *receipts[0].Receipt.LastReadMessageID)
	require.Equal(t, 300, receipts[0].ExtendsWaitSeconds)
	require.True(t, newLastReceiptAt.After(lastReceiptAt))
}

func TestTargetsLeftTracksLatestMessagePerSender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createAgent(t, "alice")
	bob := h.createAgent(t, "bob")

	session, err := h.chat.EnsureSession(ctx, h.tenantID, []string{alice.ID, bob.ID})
	require.NoError(t, err)

	_, err = h.chat.Send(ctx, h.tenantID, session.ID, service.SendInput{ActorAgentID: alice.ID, Body: "gotta go", Leaving: true})
	require.NoError(t, err)

	left, err := h.chat.TargetsLeft(ctx, h.tenantID, session.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, left)

	_, err = h.chat.Send(ctx, h.tenantID, session.ID, service.SendInput{ActorAgentID: alice.ID, Body: "back actually"})
	require.NoError(t, err)

	left, err = h.chat.TargetsLeft(ctx, h.tenantID, session.ID)
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestStreamAccessRequiresMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := h.createAgent(t, "alice")
	bob := h.createAgent(t, "bob")
	carol := h.createAgent(t, "carol")

	session, err := h.chat.EnsureSession(ctx, h.tenantID, []string{alice.ID, bob.ID})
	require.NoError(t, err)

	_, _, err = h.chat.VerifyParticipant(ctx, h.tenantID, session.ID, carol.ID)
	require.Error(t, err)

	_, _, err = h.chat.VerifyParticipant(ctx, h.tenantID, session.ID, bob.ID)
	require.NoError(t, err)
}

func TestExtendHangOnDeadlineClampsToAbsoluteCap(t *testing.T) {
	start := time.Now().UTC()
	deadline := start.Add(10 * time.Second)
	for i := 0; i < 5; i++ {
		deadline = service.ExtendHangOnDeadline(start, deadline)
	}
	require.LessOrEqual(t, deadline.Sub(start), 600*time.Second+time.Second)
}
