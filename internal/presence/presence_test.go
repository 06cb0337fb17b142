package presence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/common/config"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/presence"
)

// With no Redis URL configured, every operation must degrade to a no-op
// rather than erroring.
func TestUnconfiguredIndexDegradesToNoOp(t *testing.T) {
	idx := presence.Provide(config.RedisConfig{}, logger.Default())
	ctx := context.Background()

	require.NoError(t, idx.Heartbeat(ctx, "agent-1", "alice", "tenant-1", "active"))

	rec, err := idx.Get(ctx, "agent-1")
	require.NoError(t, err)
	require.Nil(t, rec)

	list, err := idx.ListByProject(ctx, "tenant-1")
	require.NoError(t, err)
	require.Empty(t, list)

	require.NoError(t, idx.RegisterWaiting(ctx, "session-1", "agent-1"))

	waiting, err := idx.IsWaiting(ctx, "tenant-1", "session-1", "agent-1")
	require.NoError(t, err)
	require.False(t, waiting)

	require.NoError(t, idx.UnregisterWaiting(ctx, "session-1", "agent-1"))
	require.NoError(t, idx.Close())
}

func TestMalformedRedisURLDegradesGracefully(t *testing.T) {
	idx := presence.Provide(config.RedisConfig{URL: "not-a-valid-url"}, logger.Default())
	ctx := context.Background()

	waiting, err := idx.IsWaiting(ctx, "tenant-1", "session-1", "agent-1")
	require.NoError(t, err)
	require.False(t, waiting)
}
