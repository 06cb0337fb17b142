package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/hooks"
	"github.com/awebhq/aweb/internal/identity/crypto"
	"github.com/awebhq/aweb/internal/identity/models"
	"github.com/awebhq/aweb/internal/identity/repository"
	tenantrepo "github.com/awebhq/aweb/internal/tenant/repository"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

func newTestService(t *testing.T) (*Service, repository.Repository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	tenantSvc := tenantservice.New(tenantrepo.NewMemoryRepository(), logger.Default())
	svc := New(repo, tenantSvc, nil, nil, logger.Default())
	return svc, repo
}

func TestCreate_BootstrapAllocatesAlias(t *testing.T) {
	svc, _ := newTestService(t)
	agent, err := svc.Create(context.Background(), "t1", CreateInput{})
	require.NoError(t, err)
	require.NotEmpty(t, agent.Alias)
	require.Equal(t, models.LifetimePersistent, agent.Lifetime)
	require.Equal(t, models.AccessOpen, agent.AccessPolicy)
}

func TestCreate_DIDMismatchRejected(t *testing.T) {
	svc, _ := newTestService(t)
	_, pub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	bogus := "did:key:zWrongDID"
	_, err = svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias: "alice",
		DID:            &bogus,
		PublicKey:      pub,
	})
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeValidationError, appErr.Code)
}

func TestCreate_CustodialWithMasterKeyStoresEncryptedSeed(t *testing.T) {
	repo := repository.NewMemoryRepository()
	tenantSvc := tenantservice.New(tenantrepo.NewMemoryRepository(), logger.Default())
	master := make([]byte, 32)
	svc := New(repo, tenantSvc, master, nil, logger.Default())

	agent, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias:   "alice",
		CustodyRequested: models.CustodyCustodial,
	})
	require.NoError(t, err)
	require.NotNil(t, agent.Custody)
	require.Equal(t, models.CustodyCustodial, *agent.Custody)
	require.NotEmpty(t, agent.EncryptedSeed)
	require.NotNil(t, agent.DID)
}

func TestCreate_CustodialWithoutMasterKeyMintsDIDButNoBlob(t *testing.T) {
	svc, _ := newTestService(t)
	agent, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias:   "alice",
		CustodyRequested: models.CustodyCustodial,
	})
	require.NoError(t, err)
	require.NotNil(t, agent.DID)
	require.Empty(t, agent.EncryptedSeed)
}

func rotationSig(t *testing.T, seed []byte, oldDID, newDID string, ts time.Time) string {
	t.Helper()
	payload, err := crypto.CanonicalJSON(map[string]any{
		"new_did":   newDID,
		"old_did":   oldDID,
		"timestamp": ts.UTC().Format(time.RFC3339),
	}, rotationCanonicalFields)
	require.NoError(t, err)
	sig, err := crypto.Sign(seed, payload)
	require.NoError(t, err)
	return sig
}

func TestRotate_SelfCustodySwapsIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	oldSeed, oldPub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	oldDID, err := crypto.DIDFromPublicKey(oldPub)
	require.NoError(t, err)

	agent, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias:   "alice",
		DID:              &oldDID,
		PublicKey:        oldPub,
		CustodyRequested: models.CustodySelf,
	})
	require.NoError(t, err)

	_, newPub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	newDID, err := crypto.DIDFromPublicKey(newPub)
	require.NoError(t, err)

	ts := time.Now().UTC()
	sig := rotationSig(t, oldSeed, oldDID, newDID, ts)

	updated, err := svc.Rotate(context.Background(), "t1", agent.ID, newDID, newPub, "", sig, ts)
	require.NoError(t, err)
	require.Equal(t, newDID, *updated.DID)

	logs, err := svc.Log(context.Background(), "t1", agent.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2) // create + rotate
}

func TestRotate_CustodialServerMintsReplacementKey(t *testing.T) {
	repo := repository.NewMemoryRepository()
	tenantSvc := tenantservice.New(tenantrepo.NewMemoryRepository(), logger.Default())
	master := make([]byte, 32)
	svc := New(repo, tenantSvc, master, nil, logger.Default())

	agent, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias:   "alice",
		CustodyRequested: models.CustodyCustodial,
	})
	require.NoError(t, err)
	oldDID := *agent.DID

	updated, err := svc.Rotate(context.Background(), "t1", agent.ID, "", nil, "", "", time.Now().UTC())
	require.NoError(t, err)
	require.NotEqual(t, oldDID, *updated.DID)
	require.NotEmpty(t, updated.EncryptedSeed)
	require.NotEqual(t, agent.EncryptedSeed, updated.EncryptedSeed)

	ann, err := svc.PendingRotationAnnouncement(context.Background(), agent.ID, "peer")
	require.NoError(t, err)
	require.NotNil(t, ann)
	require.Equal(t, oldDID, ann.PriorDID)
	require.Equal(t, *updated.DID, ann.NewDID)
	require.Equal(t, crypto.Verified, crypto.Verify(oldDID, mustRotationPayload(t, ann.PriorDID, ann.NewDID, ann.RotatedAt), ann.Signature))
}

func mustRotationPayload(t *testing.T, oldDID, newDID string, ts time.Time) []byte {
	t.Helper()
	payload, err := crypto.CanonicalJSON(map[string]any{
		"new_did":   newDID,
		"old_did":   oldDID,
		"timestamp": ts.UTC().Format(time.RFC3339),
	}, rotationCanonicalFields)
	require.NoError(t, err)
	return payload
}

func TestRotate_BadSignatureRejected(t *testing.T) {
	svc, _ := newTestService(t)
	_, oldPub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	oldDID, err := crypto.DIDFromPublicKey(oldPub)
	require.NoError(t, err)

	agent, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias:   "alice",
		DID:              &oldDID,
		PublicKey:        oldPub,
		CustodyRequested: models.CustodySelf,
	})
	require.NoError(t, err)

	_, newPub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	newDID, err := crypto.DIDFromPublicKey(newPub)
	require.NoError(t, err)

	_, err = svc.Rotate(context.Background(), "t1", agent.ID, newDID, newPub, "", "bm90LWEtcmVhbC1zaWc", time.Now().UTC())
	require.Error(t, err)
}

func TestRotate_EphemeralAgentForbidden(t *testing.T) {
	svc, _ := newTestService(t)
	_, oldPub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	oldDID, err := crypto.DIDFromPublicKey(oldPub)
	require.NoError(t, err)

	agent, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias:   "alice",
		DID:              &oldDID,
		PublicKey:        oldPub,
		CustodyRequested: models.CustodySelf,
		Lifetime:         models.LifetimeEphemeral,
	})
	require.NoError(t, err)

	_, newPub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	newDID, err := crypto.DIDFromPublicKey(newPub)
	require.NoError(t, err)

	_, err = svc.Rotate(context.Background(), "t1", agent.ID, newDID, newPub, "", "", time.Now().UTC())
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeBadRequest, appErr.Code)
}

func TestRetire_SetsSuccessorAndAppendsLog(t *testing.T) {
	svc, _ := newTestService(t)
	seed, pub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	did, err := crypto.DIDFromPublicKey(pub)
	require.NoError(t, err)

	alice, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias:   "alice",
		DID:              &did,
		PublicKey:        pub,
		CustodyRequested: models.CustodySelf,
	})
	require.NoError(t, err)
	bob, err := svc.Create(context.Background(), "t1", CreateInput{RequestedAlias: "bob"})
	require.NoError(t, err)

	ts := time.Now().UTC()
	payload, err := crypto.CanonicalJSON(map[string]any{
		"operation":          "retire",
		"successor_agent_id": bob.ID,
		"timestamp":          ts.Format(time.RFC3339),
	}, retireCanonicalFields)
	require.NoError(t, err)
	proof, err := crypto.Sign(seed, payload)
	require.NoError(t, err)

	updated, err := svc.Retire(context.Background(), "t1", alice.ID, bob.ID, proof, ts)
	require.NoError(t, err)
	require.Equal(t, models.StatusRetired, updated.Status)
	require.Equal(t, bob.ID, *updated.SuccessorAgentID)
}

func TestRetire_SelfSuccessorRejected(t *testing.T) {
	svc, _ := newTestService(t)
	seed, pub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	did, err := crypto.DIDFromPublicKey(pub)
	require.NoError(t, err)

	alice, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias:   "alice",
		DID:              &did,
		PublicKey:        pub,
		CustodyRequested: models.CustodySelf,
	})
	require.NoError(t, err)

	ts := time.Now().UTC()
	payload, _ := crypto.CanonicalJSON(map[string]any{
		"operation":          "retire",
		"successor_agent_id": alice.ID,
		"timestamp":          ts.Format(time.RFC3339),
	}, retireCanonicalFields)
	proof, _ := crypto.Sign(seed, payload)

	_, err = svc.Retire(context.Background(), "t1", alice.ID, alice.ID, proof, ts)
	require.Error(t, err)
}

func TestDeregister_PersistentForbidden(t *testing.T) {
	svc, _ := newTestService(t)
	agent, err := svc.Create(context.Background(), "t1", CreateInput{RequestedAlias: "alice"})
	require.NoError(t, err)

	err = svc.Deregister(context.Background(), "t1", agent.ID)
	require.ErrorIs(t, err, ErrDeregisterPersistentForbidden)
}

func TestDeregister_EphemeralSoftDeletes(t *testing.T) {
	svc, _ := newTestService(t)
	agent, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias: "bot",
		Lifetime:       models.LifetimeEphemeral,
	})
	require.NoError(t, err)

	err = svc.Deregister(context.Background(), "t1", agent.ID)
	require.NoError(t, err)

	_, err = svc.GetByID(context.Background(), "t1", agent.ID)
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeNotFound, appErr.Code)
}

func TestDeregisterByAlias_CrossTenantIsNotFoundNeverForbidden(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias: "bot",
		Lifetime:       models.LifetimeEphemeral,
	})
	require.NoError(t, err)

	err = svc.DeregisterByAlias(context.Background(), "t2", "bot")
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeNotFound, appErr.Code)
}

func TestRotationAnnouncement_AttachedThenAckedThenCleared(t *testing.T) {
	svc, _ := newTestService(t)
	oldSeed, oldPub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	oldDID, err := crypto.DIDFromPublicKey(oldPub)
	require.NoError(t, err)

	alice, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias:   "alice",
		DID:              &oldDID,
		PublicKey:        oldPub,
		CustodyRequested: models.CustodySelf,
	})
	require.NoError(t, err)
	bob, err := svc.Create(context.Background(), "t1", CreateInput{RequestedAlias: "bob"})
	require.NoError(t, err)

	_, newPub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	newDID, err := crypto.DIDFromPublicKey(newPub)
	require.NoError(t, err)
	ts := time.Now().UTC()
	sig := rotationSig(t, oldSeed, oldDID, newDID, ts)
	_, err = svc.Rotate(context.Background(), "t1", alice.ID, newDID, newPub, "", sig, ts)
	require.NoError(t, err)

	ann, err := svc.PendingRotationAnnouncement(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, ann)
	require.Equal(t, oldDID, ann.PriorDID)
	require.Equal(t, newDID, ann.NewDID)

	err = svc.AckRotationAnnouncements(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)

	ann2, err := svc.PendingRotationAnnouncement(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)
	require.Nil(t, ann2)
}

func TestCreateAndDeregister_FireMutationHooks(t *testing.T) {
	repo := repository.NewMemoryRepository()
	tenantSvc := tenantservice.New(tenantrepo.NewMemoryRepository(), logger.Default())
	var fired []string
	dispatcher := hooks.New(func(_ context.Context, eventType string, _ map[string]any) error {
		fired = append(fired, eventType)
		return nil
	}, nil, "", logger.Default())
	svc := New(repo, tenantSvc, nil, dispatcher, logger.Default())

	agent, err := svc.Create(context.Background(), "t1", CreateInput{
		RequestedAlias: "bot",
		Lifetime:       models.LifetimeEphemeral,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Deregister(context.Background(), "t1", agent.ID))

	require.Equal(t, []string{"agent.created", "agent.deregistered"}, fired)
}

func TestUpdateAccessPolicy_RejectsUnknownValue(t *testing.T) {
	svc, _ := newTestService(t)
	agent, err := svc.Create(context.Background(), "t1", CreateInput{RequestedAlias: "alice"})
	require.NoError(t, err)

	_, err = svc.UpdateAccessPolicy(context.Background(), "t1", agent.ID, "weird")
	require.Error(t, err)

	updated, err := svc.UpdateAccessPolicy(context.Background(), "t1", agent.ID, models.AccessContactsOnly)
	require.NoError(t, err)
	require.Equal(t, models.AccessContactsOnly, updated.AccessPolicy)
}
