// Package service implements the Reservation Manager:
// TTL-bounded, row-locked exclusive holds on named resources.
package service

import (
	"context"
	"time"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/events"
	"github.com/awebhq/aweb/internal/hooks"
	"github.com/awebhq/aweb/internal/reservation/models"
	"github.com/awebhq/aweb/internal/reservation/repository"
)

// Service implements acquire/renew/release/revoke/list.
type Service struct {
	repo  repository.Repository
	hooks *hooks.Dispatcher
	log   *logger.Logger
}

func New(repo repository.Repository, hookDispatcher *hooks.Dispatcher, log *logger.Logger) *Service {
	return &Service{repo: repo, hooks: hookDispatcher, log: log.WithFields()}
}

// notOwner reports an operation on a reservation held by someone else. It
// is a Conflict, not a Forbidden: the caller addressed the right resource
// but lost the race for it, and gets the holder back to decide what to do.
func notOwner(existing *models.Reservation) *apperr.AppError {
	conflict := apperr.Conflict("resource is held by another agent")
	conflict.Extras = map[string]any{
		"holder_id":    existing.HolderAgentID,
		"holder_alias": existing.HolderAlias,
		"expires_at":   existing.ExpiresAt,
	}
	return conflict
}

// AcquireResult reports the outcome of a successful acquisition.
type AcquireResult struct {
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// Acquire takes the named resource for actor if it is free or its current
// hold has expired; otherwise it returns Conflict carrying the current
// holder's id, alias, and expiry.
func (s *Service) Acquire(ctx context.Context, tenantID, actorAgentID, actorAlias, resourceKey string, ttlSeconds int, metadata map[string]any) (*AcquireResult, error) {
	ttl := models.ClampTTL(ttlSeconds)
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := time.Now().UTC()

	var result *AcquireResult
	err := s.repo.WithResourceLock(ctx, tenantID, resourceKey, func(ctx context.Context, tx repository.Repository, existing *models.Reservation) error {
		if existing != nil && !existing.Expired(now) {
			conflict := apperr.Conflict("resource already held")
			conflict.Extras = map[string]any{
				"holder_id":    existing.HolderAgentID,
				"holder_alias": existing.HolderAlias,
				"expires_at":   existing.ExpiresAt,
			}
			return conflict
		}
		if existing != nil {
			if err := tx.Delete(ctx, tenantID, resourceKey); err != nil {
				return err
			}
		}
		row := &models.Reservation{
			TenantID:      tenantID,
			ResourceKey:   resourceKey,
			HolderAgentID: actorAgentID,
			HolderAlias:   actorAlias,
			AcquiredAt:    now,
			ExpiresAt:     now.Add(time.Duration(ttl) * time.Second),
			Metadata:      metadata,
		}
		if err := tx.Insert(ctx, row); err != nil {
			return err
		}
		result = &AcquireResult{AcquiredAt: row.AcquiredAt, ExpiresAt: row.ExpiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.hooks != nil {
		s.hooks.Fire(ctx, events.ReservationAcquired, map[string]any{
			"tenant_id":    tenantID,
			"resource_key": resourceKey,
			"holder_id":    actorAgentID,
		})
	}
	return result, nil
}

// Renew extends actor's existing, non-expired hold on resourceKey.
func (s *Service) Renew(ctx context.Context, tenantID, actorAgentID, resourceKey string, ttlSeconds int) (time.Time, error) {
	ttl := models.ClampTTL(ttlSeconds)
	now := time.Now().UTC()
	var expiresAt time.Time

	err := s.repo.WithResourceLock(ctx, tenantID, resourceKey, func(ctx context.Context, tx repository.Repository, existing *models.Reservation) error {
		if existing == nil || existing.Expired(now) {
			return apperr.NotFound("reservation", resourceKey)
		}
		if existing.HolderAgentID != actorAgentID {
			return notOwner(existing)
		}
		existing.ExpiresAt = now.Add(time.Duration(ttl) * time.Second)
		if err := tx.Update(ctx, existing); err != nil {
			return err
		}
		expiresAt = existing.ExpiresAt
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// Release drops actor's hold on resourceKey. A missing or already-expired
// row is treated as idempotent success; a row held by someone
// else fails with a Conflict naming the holder.
func (s *Service) Release(ctx context.Context, tenantID, actorAgentID, resourceKey string) error {
	now := time.Now().UTC()
	released := false

	err := s.repo.WithResourceLock(ctx, tenantID, resourceKey, func(ctx context.Context, tx repository.Repository, existing *models.Reservation) error {
		if existing == nil || existing.Expired(now) {
			return nil
		}
		if existing.HolderAgentID != actorAgentID {
			return notOwner(existing)
		}
		if err := tx.Delete(ctx, tenantID, resourceKey); err != nil {
			return err
		}
		released = true
		return nil
	})
	if err != nil {
		return err
	}
	if released && s.hooks != nil {
		s.hooks.Fire(ctx, events.ReservationReleased, map[string]any{
			"tenant_id":    tenantID,
			"resource_key": resourceKey,
			"holder_id":    actorAgentID,
		})
	}
	return nil
}

// Revoke is an admin operation: delete every reservation in the tenant,
// optionally filtered by a resource-key prefix, regardless of holder.
func (s *Service) Revoke(ctx context.Context, tenantID, prefix string) (int, error) {
	return s.repo.DeleteAll(ctx, tenantID, prefix)
}

// List returns non-expired reservations, optionally prefix-filtered,
// ordered by resource key.
func (s *Service) List(ctx context.Context, tenantID, prefix string) ([]*models.Reservation, error) {
	return s.repo.ListLive(ctx, tenantID, prefix, time.Now().UTC())
}
