// Package service implements the Tenant & Alias Registry:
// project lookup/creation, slug validation, and alias allocation from a
// fixed candidate sequence.
package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awebhq/aweb/internal/common/apperr"
	"github.com/awebhq/aweb/internal/common/logger"
	"github.com/awebhq/aweb/internal/tenant/models"
	"github.com/awebhq/aweb/internal/tenant/repository"
)

// slugPattern matches the allowed project-slug character set: `[A-Za-z0-9/_.\-]+`, length <= 256.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9/_.\-]+$`)

const maxSlugLength = 256

// classicNames is the first stratum of the fixed alias candidate sequence.
var classicNames = []string{
	"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi",
	"ivan", "judy", "kevin", "laura", "mallory", "niaj", "oscar", "peggy",
	"quentin", "rupert", "sybil", "trent", "ursula", "victor", "wendy",
	"xavier", "yara", "zoe",
}

// ReservedAlias is rejected case-insensitively everywhere an alias is accepted.
const ReservedAlias = "me"

// aliasPattern matches the allowed agent-alias shape: a leading
// alphanumeric, then up to 63 alphanumerics, underscores, or dashes.
var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateAlias checks a caller-supplied alias against the allowed pattern
// and the reserved name.
func ValidateAlias(alias string) error {
	if IsReservedAlias(alias) {
		return apperr.ValidationError("alias", "'me' is reserved")
	}
	if !aliasPattern.MatchString(alias) {
		return apperr.ValidationError("alias", "must match [A-Za-z0-9][A-Za-z0-9_-]{0,63}")
	}
	return nil
}

// TotalAliasCandidates is 26 classic names + 26*99 numbered derivatives = 2626.
var TotalAliasCandidates = len(classicNames) * 100

// Service implements tenant lookup/creation and alias allocation.
type Service struct {
	repo repository.Repository
	log  *logger.Logger
}

func New(repo repository.Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log.WithFields()}
}

// ValidateSlug trims and validates a project slug.
func ValidateSlug(raw string) (string, error) {
	slug := strings.TrimSpace(raw)
	if slug == "" || len(slug) > maxSlugLength || !slugPattern.MatchString(slug) {
		return "", apperr.ValidationError("slug", "must match [A-Za-z0-9/_.-]+ and be <= 256 characters")
	}
	return slug, nil
}

// GetOrCreateBySlug returns the tenant for slug, creating it on first use.
func (s *Service) GetOrCreateBySlug(ctx context.Context, rawSlug, displayName string) (*models.Tenant, error) {
	slug, err := ValidateSlug(rawSlug)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.GetTenantBySlug(ctx, slug)
	if err == nil {
		return existing, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, err
	}

	t := &models.Tenant{
		ID:          uuid.NewString(),
		Slug:        slug,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	if t.DisplayName == "" {
		t.DisplayName = slug
	}
	if err := s.repo.CreateTenant(ctx, t); err != nil {
		// Lost the create race against a concurrent bootstrap; the slug is
		// now taken, so the tenant must exist.
		if existing, getErr := s.repo.GetTenantBySlug(ctx, slug); getErr == nil {
			return existing, nil
		}
		return nil, apperr.Internal("create tenant", err)
	}
	return t, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	return s.repo.GetTenantByID(ctx, id)
}

// GetBySlug is a read-only lookup, unlike GetOrCreateBySlug: it never
// creates a tenant, which is what the contact gate's same-project bypass
// needs when checking an arbitrary sender-supplied slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return s.repo.GetTenantBySlug(ctx, slug)
}

// candidateSequence yields the fixed alias candidate sequence in order:
// the 26 classic names, then "{name}-01".."{name}-99" for each.
func candidateSequence() []string {
	out := make([]string, 0, TotalAliasCandidates)
	for _, name := range classicNames {
		out = append(out, name)
		for n := 1; n <= 99; n++ {
			out = append(out, fmt.Sprintf("%s-%02d", name, n))
		}
	}
	return out
}

// prefixOf returns the "prefix" of an alias: the
// classic name alone, or "name-NN" stripped to just "name". Two aliases
// share a prefix iff they're derived from the same classic name.
func prefixOf(alias string) string {
	if idx := strings.LastIndex(alias, "-"); idx > 0 {
		suffix := alias[idx+1:]
		if len(suffix) == 2 && suffix[0] >= '0' && suffix[0] <= '9' && suffix[1] >= '0' && suffix[1] <= '9' {
			return alias[:idx]
		}
	}
	return alias
}

// IsReservedAlias reports whether alias is the case-insensitively reserved "me".
func IsReservedAlias(alias string) bool {
	return strings.EqualFold(alias, ReservedAlias)
}

// SuggestNext returns the first alias candidate in the fixed sequence whose
// prefix does not match the prefix of any alias in liveAliases.
func SuggestNext(liveAliases []string) (string, error) {
	takenPrefixes := make(map[string]struct{}, len(liveAliases))
	for _, a := range liveAliases {
		takenPrefixes[prefixOf(a)] = struct{}{}
	}
	for _, candidate := range candidateSequence() {
		if _, taken := takenPrefixes[prefixOf(candidate)]; !taken {
			return candidate, nil
		}
	}
	return "", apperr.AliasExhausted("")
}

// AliasInserter is implemented by the identity repository: it knows how to
// atomically claim an alias for a new agent row, keeping tenant alias
// allocation decoupled from agent storage.
type AliasInserter interface {
	InsertAgentIfAliasFree(ctx context.Context, tenantID, alias string) (agentID string, ok bool, err error)
}

// AllocateAlias bootstraps an identity: if alias is provided, it is
// validated and inserted as-is, and an alias already taken in the tenant
// is a Conflict; otherwise the fixed candidate sequence is walked and the first alias
// whose insert does not conflict is claimed.
func (s *Service) AllocateAlias(ctx context.Context, tenantID, requestedAlias string, inserter AliasInserter) (agentID, alias string, err error) {
	if requestedAlias != "" {
		if err := ValidateAlias(requestedAlias); err != nil {
			return "", "", err
		}
		id, ok, err := inserter.InsertAgentIfAliasFree(ctx, tenantID, requestedAlias)
		if err != nil {
			return "", "", err
		}
		if !ok {
			return "", "", apperr.Conflict(fmt.Sprintf("alias '%s' is already taken", requestedAlias))
		}
		return id, requestedAlias, nil
	}

	for _, candidate := range candidateSequence() {
		id, ok, err := inserter.InsertAgentIfAliasFree(ctx, tenantID, candidate)
		if err != nil {
			return "", "", err
		}
		if ok {
			return id, candidate, nil
		}
	}
	return "", "", apperr.AliasExhausted(tenantID)
}
