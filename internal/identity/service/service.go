// Package service implements the Identity Lifecycle: agent
// creation, key rotation with announcement, retirement with successor
// linking, and deregistration — every operation atomic under a row-level
// lock and recorded in the append-only agent log.
package service

import (
	"context"
	"time"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/constants"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/events"
	"github.com/awebhq/aweb/internal/hooks"
	"github.com/awebhq/aweb/internal/identity/crypto"
	"github.com/awebhq/aweb/internal/identity/custody"
	"github.com/awebhq/aweb/internal/identity/models"
	"github.com/awebhq/aweb/internal/identity/repository"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

// rotationAnnouncementWindow is how far back an unacknowledged rotation is
// still eligible to be attached to mail.
const rotationAnnouncementWindow = constants.RotationAnnouncementWindow

// rotationCanonicalFields is the field whitelist canonicalized for a
// rotation_signature: {"new_did":…, "old_did":…, "timestamp":…}.
var rotationCanonicalFields = []string{"new_did", "old_did", "timestamp"}

// retireCanonicalFields is the field whitelist for a retirement proof:
// {"operation":"retire", "successor_agent_id":…, "timestamp":…}.
var retireCanonicalFields = []string{"operation", "successor_agent_id", "timestamp"}

// Service implements the identity lifecycle operations.
type Service struct {
	repo      repository.Repository
	tenantSvc *tenantservice.Service
	masterKey []byte
	hooks     *hooks.Dispatcher
	log       *logger.Logger
}

func New(repo repository.Repository, tenantSvc *tenantservice.Service, masterKey []byte, hookDispatcher *hooks.Dispatcher, log *logger.Logger) *Service {
	return &Service{repo: repo, tenantSvc: tenantSvc, masterKey: masterKey, hooks: hookDispatcher, log: log.WithFields()}
}

// CreateInput carries the optional identity-carrying fields for Create;
// zero values mean "bootstrap" (bare alias allocation, no keys).
type CreateInput struct {
	RequestedAlias   string
	DisplayName      string
	Kind             string
	AccessPolicy     string
	Lifetime         string
	DID              *string
	PublicKey        []byte
	CustodyRequested string // "", models.CustodySelf, models.CustodyCustodial
}

// Create allocates an alias (via the tenant alias registry) and, when
// identity fields are supplied, validates and populates them — covering
// both "bootstrap" (alias only) and "identity-carrying init".
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (*models.Agent, error) {
	if in.DID != nil && len(in.PublicKey) > 0 {
		want, err := crypto.DIDFromPublicKey(in.PublicKey)
		if err != nil {
			return nil, apperr.ValidationError("public_key", err.Error())
		}
		if want != *in.DID {
			return nil, apperr.ValidationError("did", "does not match did_from_public_key(public_key)")
		}
	}

	did := in.DID
	publicKey := in.PublicKey
	var custodyMode *string
	var encryptedSeed []byte

	if in.CustodyRequested == models.CustodyCustodial {
		seed, pub, err := crypto.GenerateKeypair()
		if err != nil {
			return nil, apperr.Internal("generate custodial keypair", err)
		}
		genDID, err := crypto.DIDFromPublicKey(pub)
		if err != nil {
			return nil, apperr.Internal("derive did from generated key", err)
		}
		did = &genDID
		publicKey = pub
		mode := models.CustodyCustodial
		custodyMode = &mode
		if s.masterKey != nil {
			blob, err := custody.Encrypt(seed, s.masterKey)
			if err != nil {
				return nil, apperr.Internal("encrypt custodial seed", err)
			}
			encryptedSeed = blob
		}
		// Without a master key the DID is still minted but no blob is
		// stored; sign_on_behalf will silently decline later.
	} else if in.CustodyRequested == models.CustodySelf {
		mode := models.CustodySelf
		custodyMode = &mode
	}

	agentID, _, err := s.tenantSvc.AllocateAlias(ctx, tenantID, in.RequestedAlias, s.repo)
	if err != nil {
		return nil, err
	}

	lifetime := in.Lifetime
	if lifetime == "" {
		lifetime = models.LifetimePersistent
	}
	accessPolicy := in.AccessPolicy
	if accessPolicy == "" {
		accessPolicy = models.AccessOpen
	}
	kind := in.Kind
	if kind == "" {
		kind = "agent"
	}

	if err := s.repo.SetAgentIdentityFields(ctx, agentID, in.DisplayName, kind, accessPolicy, lifetime, did, publicKey, custodyMode, encryptedSeed); err != nil {
		return nil, err
	}

	agent, err := s.repo.GetAgentByID(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.AppendAgentLog(ctx, &models.AgentLogEntry{
		AgentID:   agent.ID,
		TenantID:  tenantID,
		Operation: models.OpCreate,
		NewDID:    agent.DID,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.log.WithError(err).WithAgentID(agent.ID).Error("append create log entry")
	}

	if s.hooks != nil {
		s.hooks.Fire(ctx, events.AgentCreated, map[string]any{
			"tenant_id": tenantID,
			"agent_id":  agent.ID,
			"alias":     agent.Alias,
			"kind":      agent.Kind,
		})
	}
	return agent, nil
}

// GetByID fetches a single tenant-scoped agent.
func (s *Service) GetByID(ctx context.Context, tenantID, agentID string) (*models.Agent, error) {
	return s.repo.GetAgentByID(ctx, tenantID, agentID)
}

// GetByAlias fetches a single tenant-scoped agent by its alias.
func (s *Service) GetByAlias(ctx context.Context, tenantID, alias string) (*models.Agent, error) {
	return s.repo.GetAgentByAlias(ctx, tenantID, alias)
}

// List returns a tenant's agents, optionally including human-kind agents
// (the include_internal flag).
func (s *Service) List(ctx context.Context, tenantID string, includeInternal bool) ([]*models.Agent, error) {
	return s.repo.ListAgents(ctx, tenantID, includeInternal)
}

// Log returns an agent's append-only lifecycle log, most recent first.
func (s *Service) Log(ctx context.Context, tenantID, agentID string, limit int) ([]*models.AgentLogEntry, error) {
	return s.repo.ListAgentLog(ctx, tenantID, agentID, limit)
}

// UpdateAccessPolicy changes an agent's access_policy (PATCH /agents/{id}'s
// access_mode field).
func (s *Service) UpdateAccessPolicy(ctx context.Context, tenantID, agentID, policy string) (*models.Agent, error) {
	if policy != models.AccessOpen && policy != models.AccessContactsOnly {
		return nil, apperr.ValidationError("access_mode", "must be 'open' or 'contacts_only'")
	}
	if err := s.repo.UpdateAgentAccessPolicy(ctx, tenantID, agentID, policy); err != nil {
		return nil, err
	}
	return s.repo.GetAgentByID(ctx, tenantID, agentID)
}

// Heartbeat confirms an agent belongs to the tenant, for use ahead of a
// presence.Heartbeat call (liveness is keyed by agent identity, not a
// separate lifecycle state).
func (s *Service) Heartbeat(ctx context.Context, tenantID, agentID string) (*models.Agent, error) {
	return s.repo.GetAgentByID(ctx, tenantID, agentID)
}

// SuggestAliasPrefix returns the next free alias candidate for a tenant,
// without claiming it.
func (s *Service) SuggestAliasPrefix(ctx context.Context, tenantID string) (string, error) {
	live, err := s.repo.ListLiveAliases(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return tenantservice.SuggestNext(live)
}

// ResolveBySlugAndAlias looks up an agent in another tenant by that
// tenant's slug and the agent's alias — cross-tenant but requires any
// valid auth. Returns NotFound for either an unknown tenant or
// an unknown alias, never leaking which one failed.
func (s *Service) ResolveBySlugAndAlias(ctx context.Context, tenantSlug, alias string) (*models.Agent, error) {
	tenant, err := s.tenantSvc.GetBySlug(ctx, tenantSlug)
	if err != nil {
		return nil, apperr.NotFound("agent", alias)
	}
	agent, err := s.repo.GetAgentByAlias(ctx, tenant.ID, alias)
	if err != nil {
		return nil, apperr.NotFound("agent", alias)
	}
	return agent, nil
}

// Rotate swaps an agent's DID, public key, and custody mode, appends a
// rotate log entry, and records a rotation announcement for peer mail.
// rotationSignature must verify against the agent's *old* key.
func (s *Service) Rotate(ctx context.Context, tenantID, agentID string, newDID string, newPublicKey []byte, newCustodyRequested string, rotationSignature string, timestamp time.Time) (*models.Agent, error) {
	var result *models.Agent

	err := s.repo.WithAgentLock(ctx, tenantID, agentID, func(ctx context.Context, tx repository.Repository, agent *models.Agent) error {
		if agent.Status != models.StatusActive {
			return apperr.Conflict("agent is not active")
		}
		if agent.Lifetime != models.LifetimePersistent {
			return apperr.BadRequest("ephemeral agents cannot rotate")
		}

		mode := ""
		if agent.Custody != nil {
			mode = *agent.Custody
		}

		// A custodial agent may omit the new key entirely: the server mints
		// the replacement keypair so it keeps holding a seed that matches
		// the stored DID.
		var freshEncryptedSeed []byte
		if len(newPublicKey) == 0 && newDID == "" && mode == models.CustodyCustodial {
			if s.masterKey == nil {
				return apperr.DependencyUnavailable("custody master key (required to mint a replacement custodial key)")
			}
			seed, pub, err := crypto.GenerateKeypair()
			if err != nil {
				return apperr.Internal("generate replacement custodial keypair", err)
			}
			newPublicKey = pub
			newDID, err = crypto.DIDFromPublicKey(pub)
			if err != nil {
				return apperr.Internal("derive did from replacement key", err)
			}
			freshEncryptedSeed, err = custody.Encrypt(seed, s.masterKey)
			if err != nil {
				return apperr.Internal("encrypt replacement custodial seed", err)
			}
		}

		want, err := crypto.DIDFromPublicKey(newPublicKey)
		if err != nil {
			return apperr.ValidationError("new_public_key", err.Error())
		}
		if want != newDID {
			return apperr.ValidationError("new_did", "does not match did_from_public_key(new_public_key)")
		}

		oldDID := ""
		if agent.DID != nil {
			oldDID = *agent.DID
		}
		payload, err := crypto.CanonicalJSON(map[string]any{
			"new_did":   newDID,
			"old_did":   oldDID,
			"timestamp": timestamp.UTC().Format(time.RFC3339),
		}, rotationCanonicalFields)
		if err != nil {
			return apperr.Internal("canonicalize rotation payload", err)
		}

		if err := s.verifyOrSignOnBehalf(agent, oldDID, payload, &rotationSignature); err != nil {
			return err
		}
		if crypto.Verify(oldDID, payload, rotationSignature) == crypto.Failed {
			return apperr.InvalidCredentials("rotation_signature does not verify against the agent's current key")
		}

		var newCustody *string
		var newEncryptedSeed []byte
		switch newCustodyRequested {
		case models.CustodySelf:
			selfMode := models.CustodySelf
			newCustody = &selfMode
			// Graduation custodial -> self destroys the stored blob.
			newEncryptedSeed = custody.Destroy()
		case models.CustodyCustodial:
			custodialMode := models.CustodyCustodial
			newCustody = &custodialMode
			newEncryptedSeed = freshEncryptedSeed
		default:
			newCustody = agent.Custody
			newEncryptedSeed = freshEncryptedSeed
		}
		// When the caller supplied its own replacement key, there is no seed
		// to hold in custody: the stored blob is cleared rather than left
		// stale against the new DID; while a custodial agent has no blob and
		// a master key is configured, signing on its behalf fails with
		// ErrNoEncryptedKey until the next server-minted rotation.

		if err := tx.RotateAgent(ctx, agentID, newDID, newPublicKey, newCustody, newEncryptedSeed); err != nil {
			return err
		}

		priorDID := agent.DID
		entrySig := rotationSignature
		if err := tx.AppendAgentLog(ctx, &models.AgentLogEntry{
			AgentID:        agentID,
			TenantID:       tenantID,
			Operation:      models.OpRotate,
			PriorDID:       priorDID,
			NewDID:         &newDID,
			SignerDID:      &oldDID,
			EntrySignature: &entrySig,
			CreatedAt:      time.Now().UTC(),
		}); err != nil {
			return err
		}

		ann := &models.RotationAnnouncement{
			AgentID:   agentID,
			PriorDID:  oldDID,
			NewDID:    newDID,
			RotatedAt: timestamp.UTC(),
			Signature: rotationSignature,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.InsertRotationAnnouncement(ctx, ann); err != nil {
			return err
		}

		updated, err := tx.GetAgentByID(ctx, tenantID, agentID)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Retire marks an agent retired with a successor, requiring a valid
// retirement proof signed by the agent's current key.
func (s *Service) Retire(ctx context.Context, tenantID, agentID, successorAgentID, retirementProof string, timestamp time.Time) (*models.Agent, error) {
	var result *models.Agent

	err := s.repo.WithAgentLock(ctx, tenantID, agentID, func(ctx context.Context, tx repository.Repository, agent *models.Agent) error {
		if agent.Status != models.StatusActive {
			return apperr.Conflict("agent is not active")
		}
		if agent.Lifetime != models.LifetimePersistent {
			return apperr.BadRequest("ephemeral agents cannot retire")
		}
		if successorAgentID == agentID {
			return apperr.BadRequest("successor_agent_id cannot be the agent itself")
		}
		successor, err := tx.GetAgentByID(ctx, tenantID, successorAgentID)
		if err != nil {
			return err
		}
		if successor.Status != models.StatusActive {
			return apperr.ValidationError("successor_agent_id", "successor must be an active agent in the same tenant")
		}

		ownDID := ""
		if agent.DID != nil {
			ownDID = *agent.DID
		}
		payload, err := crypto.CanonicalJSON(map[string]any{
			"operation":          "retire",
			"successor_agent_id": successorAgentID,
			"timestamp":          timestamp.UTC().Format(time.RFC3339),
		}, retireCanonicalFields)
		if err != nil {
			return apperr.Internal("canonicalize retirement payload", err)
		}

		proof := retirementProof
		if err := s.verifyOrSignOnBehalf(agent, ownDID, payload, &proof); err != nil {
			return err
		}
		if crypto.Verify(ownDID, payload, proof) == crypto.Failed {
			return apperr.InvalidCredentials("retirement_proof does not verify against the agent's current key")
		}

		if err := tx.RetireAgent(ctx, agentID, successorAgentID); err != nil {
			return err
		}

		signerDID := ownDID
		if err := tx.AppendAgentLog(ctx, &models.AgentLogEntry{
			AgentID:        agentID,
			TenantID:       tenantID,
			Operation:      models.OpRetire,
			SignerDID:      &signerDID,
			EntrySignature: &proof,
			CreatedAt:      time.Now().UTC(),
		}); err != nil {
			return err
		}

		updated, err := tx.GetAgentByID(ctx, tenantID, agentID)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ErrDeregisterPersistentForbidden is returned when Deregister targets a
// persistent agent, which must be retired instead.
var ErrDeregisterPersistentForbidden = apperr.BadRequest("persistent agents cannot be deregistered; retire instead")

// Deregister soft-deletes an ephemeral agent, destroying any custody blob.
// Cross-tenant lookups that miss must behave identically to a same-tenant
// miss: both surface as NotFound, never Forbidden, so a peer deregister can
// never be used to probe for another tenant's alias.
func (s *Service) Deregister(ctx context.Context, tenantID, agentID string) error {
	err := s.repo.WithAgentLock(ctx, tenantID, agentID, func(ctx context.Context, tx repository.Repository, agent *models.Agent) error {
		if agent.Lifetime == models.LifetimePersistent {
			return ErrDeregisterPersistentForbidden
		}

		now := time.Now().UTC()
		if err := tx.DeregisterAgent(ctx, agentID, now); err != nil {
			return err
		}
		return tx.AppendAgentLog(ctx, &models.AgentLogEntry{
			AgentID:   agentID,
			TenantID:  tenantID,
			Operation: models.OpDeregister,
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}
	if s.hooks != nil {
		s.hooks.Fire(ctx, events.AgentDeregistered, map[string]any{
			"tenant_id": tenantID,
			"agent_id":  agentID,
		})
	}
	return nil
}

// DeregisterByAlias resolves alias within tenant before deregistering,
// giving peer deregister (DELETE /agents/{namespace}/{alias}) the same
// not-found-never-forbidden behavior as the self path.
func (s *Service) DeregisterByAlias(ctx context.Context, tenantID, alias string) error {
	agent, err := s.repo.GetAgentByAlias(ctx, tenantID, alias)
	if err != nil {
		return err
	}
	return s.Deregister(ctx, tenantID, agent.ID)
}

// PendingRotationAnnouncement returns the earliest rotation by sender not
// yet acknowledged by recipient, within the last 24h, or nil if none (spec
// consumed by mail's inbox attachment).
func (s *Service) PendingRotationAnnouncement(ctx context.Context, senderAgentID, recipientAgentID string) (*models.RotationAnnouncement, error) {
	return s.repo.EarliestUnackedAnnouncement(ctx, senderAgentID, recipientAgentID, rotationAnnouncementWindow, time.Now().UTC())
}

// AckRotationAnnouncements idempotently acknowledges every rotation
// announcement by sender on behalf of recipient. Called whenever recipient
// sends mail to sender.
func (s *Service) AckRotationAnnouncements(ctx context.Context, senderAgentID, recipientAgentID string) error {
	return s.repo.AckAnnouncementsFromSender(ctx, senderAgentID, recipientAgentID, time.Now().UTC())
}

// verifyOrSignOnBehalf fills in *signature via custody.SignOnBehalf when the
// caller left it empty and the agent is custodial with a configured master
// key; otherwise it leaves the caller-supplied signature untouched for the
// subsequent crypto.Verify check.
func (s *Service) verifyOrSignOnBehalf(agent *models.Agent, signerDID string, payload []byte, signature *string) error {
	if *signature != "" {
		return nil
	}
	mode := ""
	if agent.Custody != nil {
		mode = *agent.Custody
	}
	signed, err := custody.SignOnBehalf(custody.Agent{
		ID:            agent.ID,
		Custody:       mode,
		EncryptedSeed: agent.EncryptedSeed,
		FoundAgentRow: true,
	}, s.masterKey, payload, signerDID)
	if err != nil {
		return apperr.Internal("sign on behalf", err)
	}
	if signed == nil {
		return apperr.DependencyUnavailable("custody signing (no master key configured or agent not custodial)")
	}
	*signature = signed.Signature
	return nil
}

// SignOnBehalfIfCustodial signs payload under agent's custodial key when
// agent.Custody == custodial and a master key is configured, returning
// ok=false (no error) in every other case — the caller (mail/chat) is
// expected to proceed unsigned rather than fail when the sender isn't
// custodial or no master key is configured. Errors from custody.SignOnBehalf
// are returned: a custodial agent with no stored key (ErrNoEncryptedKey), a
// decrypt failure, or a signing failure.
func (s *Service) SignOnBehalfIfCustodial(agent *models.Agent, payload []byte) (signature string, ok bool, err error) {
	mode := ""
	if agent.Custody != nil {
		mode = *agent.Custody
	}
	did := ""
	if agent.DID != nil {
		did = *agent.DID
	}
	signed, err := custody.SignOnBehalf(custody.Agent{
		ID:            agent.ID,
		Custody:       mode,
		EncryptedSeed: agent.EncryptedSeed,
		FoundAgentRow: true,
	}, s.masterKey, payload, did)
	if err != nil {
		return "", false, err
	}
	if signed == nil {
		return "", false, nil
	}
	return signed.Signature, true, nil
}
