// Package service implements the Contact Gate: a per-tenant
// allow-list gating which external senders may reach an agent whose access
// policy is contacts_only.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/contacts/models"
	"github.com/awebhq/aweb/internal/contacts/repository"
	identityrepo "github.com/awebhq/aweb/internal/identity/repository"
	tenantservice "github.com/awebhq/aweb/internal/tenant/service"
)

// Service implements contact list management and the access-check gate.
type Service struct {
	repo      repository.Repository
	identity  identityrepo.Repository
	tenantSvc *tenantservice.Service
	log       *logger.Logger
}

func New(repo repository.Repository, identity identityrepo.Repository, tenantSvc *tenantservice.Service, log *logger.Logger) *Service {
	return &Service{repo: repo, identity: identity, tenantSvc: tenantSvc, log: log.WithFields()}
}

// CheckAccess decides whether senderAddress may reach targetAgentID: open
// policy always passes; contacts_only requires either a same-project
// sender or an allow-list hit (exact address or org-level).
func (s *Service) CheckAccess(ctx context.Context, tenantID, targetAgentID, senderAddress string) (bool, error) {
	target, err := s.identity.GetAgentByID(ctx, tenantID, targetAgentID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if target.AccessPolicy == "" || target.AccessPolicy == "open" {
		return true, nil
	}

	orgSlug := senderAddress
	if idx := strings.Index(senderAddress, "/"); idx >= 0 {
		orgSlug = senderAddress[:idx]
	}
	if orgSlug != "" {
		senderTenant, err := s.tenantSvc.GetBySlug(ctx, orgSlug)
		if err == nil && senderTenant.ID == tenantID {
			return true, nil
		}
	}

	candidates := []string{senderAddress}
	if orgSlug != senderAddress {
		candidates = append(candidates, orgSlug)
	}
	return s.repo.ExistsAny(ctx, tenantID, candidates)
}

// Add inserts an allow-list entry; an address already on the tenant's list
// is a Conflict.
func (s *Service) Add(ctx context.Context, tenantID, address, label string) (*models.Contact, error) {
	if address == "" {
		return nil, apperr.ValidationError("address", "must not be empty")
	}
	exists, err := s.repo.ExistsAny(ctx, tenantID, []string{address})
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperr.Conflict("contact already exists: " + address)
	}
	c := &models.Contact{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Address:   address,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Remove deletes an allow-list entry by id; a missing entry is success.
func (s *Service) Remove(ctx context.Context, tenantID, id string) error {
	return s.repo.Delete(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID string) ([]*models.Contact, error) {
	return s.repo.List(ctx, tenantID)
}
