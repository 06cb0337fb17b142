package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/tenant/repository"
)

func TestValidateSlug(t *testing.T) {
	slug, err := ValidateSlug("  org-a/team.1  ")
	require.NoError(t, err)
	require.Equal(t, "org-a/team.1", slug)

	_, err = ValidateSlug("has a space")
	require.Error(t, err)

	_, err = ValidateSlug("")
	require.Error(t, err)
}

func TestGetOrCreateBySlug_CreatesOnce(t *testing.T) {
	repo := repository.NewMemoryRepository()
	svc := New(repo, logger.Default())

	t1, err := svc.GetOrCreateBySlug(context.Background(), "org-a", "Org A")
	require.NoError(t, err)

	t2, err := svc.GetOrCreateBySlug(context.Background(), "org-a", "ignored")
	require.NoError(t, err)
	require.Equal(t, t1.ID, t2.ID)
}

func TestIsReservedAlias(t *testing.T) {
	require.True(t, IsReservedAlias("me"))
	require.True(t, IsReservedAlias("ME"))
	require.False(t, IsReservedAlias("mel"))
}

func TestValidateAlias(t *testing.T) {
	require.NoError(t, ValidateAlias("alice"))
	require.NoError(t, ValidateAlias("a1_b-2"))
	require.Error(t, ValidateAlias("me"))
	require.Error(t, ValidateAlias("-starts-with-dash"))
	require.Error(t, ValidateAlias("has space"))
	require.Error(t, ValidateAlias(""))

	long := "a"
	for len(long) < 64 {
		long += "x"
	}
	require.NoError(t, ValidateAlias(long))
	require.Error(t, ValidateAlias(long+"x"))
}

func TestSuggestNext_SkipsTakenPrefix(t *testing.T) {
	next, err := SuggestNext([]string{"alice", "bob-01"})
	require.NoError(t, err)
	require.NotEqual(t, "alice", next)
	require.NotContains(t, next, "bob")
}

type fakeInserter struct {
	taken map[string]bool
	next  string
}

func (f *fakeInserter) InsertAgentIfAliasFree(_ context.Context, _ string, alias string) (string, bool, error) {
	if f.taken[alias] {
		return "", false, nil
	}
	f.taken[alias] = true
	return "agent-" + alias, true, nil
}

func TestAllocateAlias_ExplicitAliasConflict(t *testing.T) {
	svc := New(repository.NewMemoryRepository(), logger.Default())
	ins := &fakeInserter{taken: map[string]bool{"alice": true}}

	_, _, err := svc.AllocateAlias(context.Background(), "t1", "alice", ins)
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeConflict, appErr.Code)
}

func TestAllocateAlias_ExhaustionFailsWithAliasExhausted(t *testing.T) {
	svc := New(repository.NewMemoryRepository(), logger.Default())
	ins := &fakeInserter{taken: make(map[string]bool)}

	seen := make(map[string]bool)
	for i := 0; i < TotalAliasCandidates; i++ {
		_, alias, err := svc.AllocateAlias(context.Background(), "t1", "", ins)
		require.NoError(t, err)
		require.False(t, seen[alias], "alias %q allocated twice", alias)
		seen[alias] = true
	}

	_, _, err := svc.AllocateAlias(context.Background(), "t1", "", ins)
	require.Error(t, err)
	var appErr *apperr.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.CodeAliasExhausted, appErr.Code)
}
