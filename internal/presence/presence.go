// Package presence implements the Presence & Waiting Index:
// two ephemeral, Redis-backed indices — agent liveness and chat-stream
// waiting registration — that degrade to no-ops when Redis is unconfigured.
// Grounded on the original presence.py/chat_waiting.py key layout (hash per
// agent, sorted set per chat session) reimplemented against go-redis/v9.
package presence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/awebhq/aweb/internal/common/config"
	"github.com/awebhq/aweb/internal/common/constants"
	"github.com/awebhq/aweb/internal/common/logger"
)

// AgentRecord is a single agent's presence snapshot.
type AgentRecord struct {
	AgentID   string
	Alias     string
	ProjectID string
	Status    string
	LastSeen  time.Time
}

// Index exposes both presence indices. A nil-store Index (constructed by
// Provide with an empty Redis URL) answers every query as "offline"
// without error.
type Index struct {
	client *redis.Client
	ttl    time.Duration
	window time.Duration
	log    *logger.Logger
}

// Provide builds an Index from configuration. With no Redis URL configured
// it returns an Index with a nil client, which every method treats as the
// degrade-to-no-op case.
func Provide(cfg config.RedisConfig, log *logger.Logger) *Index {
	idx := &Index{ttl: cfg.PresenceTTL(), window: cfg.WaitingWindow(), log: log.WithFields()}
	if idx.ttl <= 0 {
		idx.ttl = constants.PresenceTTL
	}
	if idx.window <= 0 {
		idx.window = constants.WaitingWindow
	}
	if cfg.URL == "" {
		return idx
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.WithError(err).Warn("parse redis url, presence will degrade to no-op")
		return idx
	}
	idx.client = redis.NewClient(opts)
	return idx
}

func (idx *Index) enabled() bool { return idx.client != nil }

func presenceKey(agentID string) string      { return "aweb:presence:" + agentID }
func projectIndexKey(projectID string) string { return "aweb:idx:project_agents:" + projectID }
func waitingKey(sessionID string) string      { return "chat:waiting:" + sessionID }

// Heartbeat upserts an agent's presence hash and refreshes its TTL and the
// per-project index membership.
func (idx *Index) Heartbeat(ctx context.Context, agentID, alias, projectID, status string) error {
	if !idx.enabled() {
		return nil
	}
	now := time.Now().UTC()
	key := presenceKey(agentID)
	fields := map[string]any{
		"agent_id":   agentID,
		"alias":      alias,
		"project_id": projectID,
		"status":     status,
		"last_seen":  now.Format(time.RFC3339),
	}
	pipe := idx.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, idx.ttl)
	idxKey := projectIndexKey(projectID)
	pipe.SAdd(ctx, idxKey, agentID)
	pipe.Expire(ctx, idxKey, idx.ttl*constants.PresenceIndexTTLMultiplier)
	_, err := pipe.Exec(ctx)
	return err
}

// Get fetches a single agent's presence record, or nil if absent/expired.
func (idx *Index) Get(ctx context.Context, agentID string) (*AgentRecord, error) {
	if !idx.enabled() {
		return nil, nil
	}
	fields, err := idx.client.HGetAll(ctx, presenceKey(agentID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return recordFromFields(fields), nil
}

// ListByProject returns every non-stale presence record registered in the
// project's index, lazily pruning stale index members.
func (idx *Index) ListByProject(ctx context.Context, projectID string) ([]*AgentRecord, error) {
	if !idx.enabled() {
		return nil, nil
	}
	idxKey := projectIndexKey(projectID)
	members, err := idx.client.SMembers(ctx, idxKey).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	existsPipe := idx.client.Pipeline()
	existsCmds := make([]*redis.IntCmd, len(members))
	for i, agentID := range members {
		existsCmds[i] = existsPipe.Exists(ctx, presenceKey(agentID))
	}
	if _, err := existsPipe.Exec(ctx); err != nil {
		return nil, err
	}

	var live, stale []string
	for i, agentID := range members {
		if existsCmds[i].Val() > 0 {
			live = append(live, agentID)
		} else {
			stale = append(stale, agentID)
		}
	}
	if len(stale) > 0 {
		cleanup := idx.client.Pipeline()
		for _, agentID := range stale {
			cleanup.SRem(ctx, idxKey, agentID)
		}
		if _, err := cleanup.Exec(ctx); err != nil {
			idx.log.WithError(err).Warn("prune stale presence index members")
		}
	}
	if len(live) == 0 {
		return nil, nil
	}

	hashPipe := idx.client.Pipeline()
	hashCmds := make([]*redis.MapStringStringCmd, len(live))
	for i, agentID := range live {
		hashCmds[i] = hashPipe.HGetAll(ctx, presenceKey(agentID))
	}
	if _, err := hashPipe.Exec(ctx); err != nil {
		return nil, err
	}
	var out []*AgentRecord
	for _, cmd := range hashCmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		out = append(out, recordFromFields(fields))
	}
	return out, nil
}

func recordFromFields(fields map[string]string) *AgentRecord {
	r := &AgentRecord{
		AgentID:   fields["agent_id"],
		Alias:     fields["alias"],
		ProjectID: fields["project_id"],
		Status:    fields["status"],
	}
	if ts, err := time.Parse(time.RFC3339, fields["last_seen"]); err == nil {
		r.LastSeen = ts
	}
	return r
}

// RegisterWaiting marks agentID as attached to session's SSE stream, to be
// refreshed every 30 s while the stream is open.
func (idx *Index) RegisterWaiting(ctx context.Context, sessionID, agentID string) error {
	if !idx.enabled() {
		return nil
	}
	key := waitingKey(sessionID)
	pipe := idx.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(time.Now().UTC().Unix()), Member: agentID})
	pipe.Expire(ctx, key, idx.window)
	_, err := pipe.Exec(ctx)
	return err
}

// UnregisterWaiting removes agentID's waiting registration on stream close.
func (idx *Index) UnregisterWaiting(ctx context.Context, sessionID, agentID string) error {
	if !idx.enabled() {
		return nil
	}
	return idx.client.ZRem(ctx, waitingKey(sessionID), agentID).Err()
}

// IsWaiting implements chat/service.WaitingIndex: reports whether agentID
// has a non-stale waiting registration on session, lazily removing it if
// it has aged past the window.
func (idx *Index) IsWaiting(ctx context.Context, tenantID, sessionID, agentID string) (bool, error) {
	if !idx.enabled() {
		return false, nil
	}
	key := waitingKey(sessionID)
	score, err := idx.client.ZScore(ctx, key, agentID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	registeredAt := time.Unix(int64(score), 0)
	if time.Since(registeredAt) > idx.window {
		_ = idx.client.ZRem(ctx, key, agentID).Err()
		return false, nil
	}
	return true, nil
}

// Close releases the underlying Redis client, if any.
func (idx *Index) Close() error {
	if !idx.enabled() {
		return nil
	}
	return idx.client.Close()
}
