package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/contacts/repository"
	"github.com/awebhq/aweb/internal/contacts/service"
	identitymodels "github.com/awebhq/aweb/internal/identity/models"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
	identityservice "github.com/awebhq/aweb/internal/identity/service"
	tenantrepo "github.com/awebhq/aweb/internal/tenant/repository"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

type harness struct {
	contacts *service.Service
	identity *identityservice.Service
	tenantA  string
	tenantB  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logger.Default()
	tRepo := tenantrepo.NewMemoryRepository()
	tSvc := tenantservice.New(tRepo, log)
	tenantA, err := tSvc.GetOrCreateBySlug(context.Background(), "org-a", "Org A")
	require.NoError(t, err)
	tenantB, err := tSvc.GetOrCreateBySlug(context.Background(), "org-b", "Org B")
	require.NoError(t, err)

	iRepo := identityrepo.NewMemoryRepository()
	iSvc := identityservice.New(iRepo, tSvc, nil, nil, log)

	cRepo := repository.NewMemoryRepository()
	cSvc := service.New(cRepo, iRepo, tSvc, log)
	return &harness{contacts: cSvc, identity: iSvc, tenantA: tenantA.ID, tenantB: tenantB.ID}
}

func TestCheckAccessOpenPolicyAlwaysPasses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob, err := h.identity.Create(ctx, h.tenantA, identityservice.CreateInput{RequestedAlias: "bob", AccessPolicy: identitymodels.AccessOpen})
	require.NoError(t, err)

	ok, err := h.contacts.CheckAccess(ctx, h.tenantA, bob.ID, "org-b/stranger")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckAccessSameProjectBypass(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob, err := h.identity.Create(ctx, h.tenantA, identityservice.CreateInput{RequestedAlias: "bob", AccessPolicy: identitymodels.AccessContactsOnly})
	require.NoError(t, err)

	ok, err := h.contacts.CheckAccess(ctx, h.tenantA, bob.ID, "org-a/alice")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckAccessRequiresAllowlistAcrossProjects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob, err := h.identity.Create(ctx, h.tenantA, identityservice.CreateInput{RequestedAlias: "bob", AccessPolicy: identitymodels.AccessContactsOnly})
	require.NoError(t, err)

	ok, err := h.contacts.CheckAccess(ctx, h.tenantA, bob.ID, "org-b/carol")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = h.contacts.Add(ctx, h.tenantA, "org-b/carol", "carol from org b")
	require.NoError(t, err)

	ok, err = h.contacts.CheckAccess(ctx, h.tenantA, bob.ID, "org-b/carol")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckAccessOrgLevelAllowlistMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bob, err := h.identity.Create(ctx, h.tenantA, identityservice.CreateInput{RequestedAlias: "bob", AccessPolicy: identitymodels.AccessContactsOnly})
	require.NoError(t, err)

	_, err = h.contacts.Add(ctx, h.tenantA, "org-b", "all of org b")
	require.NoError(t, err)

	ok, err := h.contacts.CheckAccess(ctx, h.tenantA, bob.ID, "org-b/anyone")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRemoveMissingContactIsIdempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.contacts.Remove(context.Background(), h.tenantA, "never-added"))
}
