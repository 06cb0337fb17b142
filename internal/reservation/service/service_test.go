package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/reservation/repository"
	"github.com/awebhq/aweb/internal/reservation/service"
)

const tenantID = "tenant-1"

func newService() *service.Service {
	return service.New(repository.NewMemoryRepository(), nil, logger.Default())
}

// S5: reservation conflict cycle — alice acquires, bob's acquire conflicts,
// bob's release conflicts too (not the holder), alice releases, bob acquires.
func TestReservationConflictCycle(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Acquire(ctx, tenantID, "alice-id", "alice", "src/main.py", 60, nil)
	require.NoError(t, err)

	_, err = svc.Acquire(ctx, tenantID, "bob-id", "bob", "src/main.py", 60, nil)
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeConflict, appErr.Code)
	require.Equal(t, "alice", appErr.Extras["holder_alias"])

	err = svc.Release(ctx, tenantID, "bob-id", "src/main.py")
	require.Error(t, err)
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeConflict, appErr.Code)
	require.Equal(t, "alice", appErr.Extras["holder_alias"])

	require.NoError(t, svc.Release(ctx, tenantID, "alice-id", "src/main.py"))

	_, err = svc.Acquire(ctx, tenantID, "bob-id", "bob", "src/main.py", 60, nil)
	require.NoError(t, err)
}

func TestReleaseMissingIsIdempotent(t *testing.T) {
	svc := newService()
	require.NoError(t, svc.Release(context.Background(), tenantID, "alice-id", "never-held"))
}

func TestRenewRequiresOwnership(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Acquire(ctx, tenantID, "alice-id", "alice", "k", 60, nil)
	require.NoError(t, err)

	_, err = svc.Renew(ctx, tenantID, "bob-id", "k", 120)
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeConflict, appErr.Code)

	expiresAt, err := svc.Renew(ctx, tenantID, "alice-id", "k", 120)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().UTC().Add(120*time.Second), expiresAt, 2*time.Second)
}

func TestRevokeDeletesRegardlessOfHolder(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Acquire(ctx, tenantID, "alice-id", "alice", "a/1", 60, nil)
	require.NoError(t, err)
	_, err = svc.Acquire(ctx, tenantID, "alice-id", "alice", "a/2", 60, nil)
	require.NoError(t, err)
	_, err = svc.Acquire(ctx, tenantID, "alice-id", "alice", "b/1", 60, nil)
	require.NoError(t, err)

	n, err := svc.Revoke(ctx, tenantID, "a/")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	live, err := svc.List(ctx, tenantID, "")
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "b/1", live[0].ResourceKey)
}
