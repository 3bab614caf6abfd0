package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSessionIndex tracks which rule ids belong to a session in Redis sets
// (key: sessrules:{sessionID}). Deployments that run several engine
// processes use it to fan session teardown out: each process reads the set
// and deletes the listed rules from its own store.
type RedisSessionIndex struct {
	client *redis.Client
	keyFmt string
}

func NewRedisSessionIndex(client *redis.Client) *RedisSessionIndex {
	return &RedisSessionIndex{client: client, keyFmt: "sessrules:%s"}
}

func (r *RedisSessionIndex) key(sessionID string) string {
	return fmt.Sprintf(r.keyFmt, sessionID)
}

// Track records that a rule is scoped to the session.
func (r *RedisSessionIndex) Track(ctx context.Context, sessionID, ruleID string) error {
	return r.client.SAdd(ctx, r.key(sessionID), ruleID).Err()
}

// Untrack removes a rule from the session's set, e.g. after once-consumption.
func (r *RedisSessionIndex) Untrack(ctx context.Context, sessionID, ruleID string) error {
	return r.client.SRem(ctx, r.key(sessionID), ruleID).Err()
}

// RuleIDs lists the rules currently tracked for a session.
func (r *RedisSessionIndex) RuleIDs(ctx context.Context, sessionID string) ([]string, error) {
	return r.client.SMembers(ctx, r.key(sessionID)).Result()
}

// Clear drops the session's set after teardown has completed.
func (r *RedisSessionIndex) Clear(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}
