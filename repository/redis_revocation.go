package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mediashield/go-secure-media-server/types"
	"github.com/redis/go-redis/v9"
)

const (
	redisPrefixRevoked = "revoked"       // revoked:<sessionId> -> json record, expires at ttl
	redisKeyRevokedIdx = "revoked:index" // sorted set sessionId -> last_updated
)

// implements RevocationStore on Redis, record expiry is delegated to key expiration
type RedisRevocationStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRevocationStore(client *redis.Client) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, now: time.Now}
}

func (r *RedisRevocationStore) key(sessionID string) string {
	return fmt.Sprintf("%s:%s", redisPrefixRevoked, sessionID)
}

func (r *RedisRevocationStore) Put(ctx context.Context, record *types.SessionRecord) error {
	expiry := time.Until(time.Unix(record.Ttl, 0))
	if record.Ttl == 0 || expiry <= 0 {
		return fmt.Errorf("record %s already expired: %w", record.SessionID, types.ErrBadRequest)
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(record.SessionID), payload, expiry)
		pipe.ZAdd(ctx, redisKeyRevokedIdx, redis.Z{Score: float64(record.LastUpdated), Member: record.SessionID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store revoked session %s: %w", record.SessionID, err)
	}
	return nil
}

func (r *RedisRevocationStore) ListActive(ctx context.Context, since time.Time) ([]*types.SessionRecord, error) {
	ids, err := r.client.ZRangeByScore(ctx, redisKeyRevokedIdx, &redis.ZRangeBy{
		Min: strconv.FormatInt(since.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read revocation index: %w", err)
	}
	records := []*types.SessionRecord{}
	if len(ids) == 0 {
		return records, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read revoked sessions: %w", err)
	}
	now := r.now()
	stale := []interface{}{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// key expired, drop it from the index
			stale = append(stale, ids[i])
			continue
		}
		var rec types.SessionRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("corrupt revoked session %s: %w", ids[i], err)
		}
		if rec.Expired(now) {
			continue
		}
		records = append(records, &rec)
	}
	if len(stale) > 0 {
		_ = r.client.ZRem(ctx, redisKeyRevokedIdx, stale...).Err()
	}
	return records, nil
}
