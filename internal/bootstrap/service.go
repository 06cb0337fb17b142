// Package bootstrap implements POST /v1/init: first-use tenant creation
// plus its first agent and a matching API key, in one call so a fresh
// deployment never needs a second round trip to mint a credential.
package bootstrap

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	identitymodels "github.com/awebhq/aweb/internal/identity/models"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
	identityservice "github.com/awebhq/aweb/internal/identity/service"
	tenantmodels "github.com/awebhq/aweb/internal/tenant/models"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

// apiKeyPrefix marks every minted key as belonging to this service,
// mirroring the "aw_sk_" convention a caller would recognize at a glance.
const apiKeyPrefix = "aw_sk_"

// Service bootstraps a tenant, its first agent, and a bearer credential
// for that agent in a single call.
type Service struct {
	identity identityrepo.Repository
	identSvc *identityservice.Service
	tenant   *tenantservice.Service
	log      *logger.Logger
}

func New(identity identityrepo.Repository, identSvc *identityservice.Service, tenant *tenantservice.Service, log *logger.Logger) *Service {
	return &Service{identity: identity, identSvc: identSvc, tenant: tenant, log: log.WithFields()}
}

// Input carries the fields of a POST /v1/init request. The identity fields
// are optional: a bare init allocates an alias with no keys, while an
// identity-carrying init registers (or server-mints, for custodial) a DID.
type Input struct {
	ProjectSlug string
	ProjectName string
	Alias       string
	HumanName   string
	AgentType   string

	DID       string
	PublicKey []byte
	Custody   string // "", "self", or "custodial"
	Lifetime  string // "", "persistent", or "ephemeral"
}

// Result is the body of a successful init response.
type Result struct {
	Tenant    *tenantmodels.Tenant
	Agent     *identitymodels.Agent
	APIKey    string
	CreatedAt time.Time
}

// Run finds-or-creates the tenant by slug, then always mints a new agent
// and API key under it — repeat calls are safe for the tenant (idempotent
// by slug) but never reuse a prior agent or key.
func (s *Service) Run(ctx context.Context, in Input) (*Result, error) {
	tenant, err := s.tenant.GetOrCreateBySlug(ctx, in.ProjectSlug, in.ProjectName)
	if err != nil {
		return nil, err
	}

	agentType := in.AgentType
	if agentType == "" {
		agentType = "agent"
	}

	createIn := identityservice.CreateInput{
		RequestedAlias:   in.Alias,
		DisplayName:      in.HumanName,
		Kind:             agentType,
		Lifetime:         in.Lifetime,
		CustodyRequested: in.Custody,
		PublicKey:        in.PublicKey,
	}
	if in.DID != "" {
		did := in.DID
		createIn.DID = &did
	}
	agent, err := s.identSvc.Create(ctx, tenant.ID, createIn)
	if err != nil {
		return nil, err
	}

	plaintext, keyHash, prefix, err := generateAPIKey()
	if err != nil {
		return nil, apperr.Internal("generate api key", err)
	}
	now := time.Now().UTC()
	if err := s.identity.CreateAPIKey(ctx, &identitymodels.APIKey{
		ID:            uuid.NewString(),
		TenantID:      tenant.ID,
		AgentID:       &agent.ID,
		KeyHash:       keyHash,
		DisplayPrefix: prefix,
		Active:        true,
		CreatedAt:     now,
	}); err != nil {
		return nil, err
	}

	return &Result{Tenant: tenant, Agent: agent, APIKey: plaintext, CreatedAt: now}, nil
}

func generateAPIKey() (plaintext, hash, prefix string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", err
	}
	plaintext = apiKeyPrefix + hex.EncodeToString(buf)
	sum := sha256.Sum256([]byte(plaintext))
	hash = hex.EncodeToString(sum[:])
	prefix = plaintext
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return plaintext, hash, prefix, nil
}
