package refresh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// reapScript deletes one refresh record if, and only if, it has expired.
// Expiry is re-read inside the script so a record rotated or reissued
// between SCAN and reap is never touched. When the family's log becomes
// empty the family and its user-index entry go too.
const reapScript = `
local record_key = KEYS[1]
local family_prefix = ARGV[1]
local log_prefix = ARGV[2]
local user_prefix = ARGV[3]
local now = ARGV[4]
local hash = ARGV[5]

local rec = redis.call("HMGET", record_key, "family", "exp", "revoked")
if not rec[1] then
  return {0, 0}
end
if tonumber(rec[2]) >= tonumber(now) then
  return {0, 0}
end

local reaped = 1
if rec[3] ~= "1" then
  redis.call("HSET", record_key, "revoked", "1", "reason", "EXPIRED_CLEANUP", "revoked_at", now)
  reaped = 2
end
redis.call("DEL", record_key)

local log_key = log_prefix .. rec[1]
redis.call("ZREM", log_key, hash)
if redis.call("ZCARD", log_key) > 0 then
  return {reaped, 0}
end

local family_key = family_prefix .. rec[1]
local user_id = redis.call("HGET", family_key, "user")
redis.call("DEL", family_key, log_key)
if user_id then
  redis.call("SREM", user_prefix .. user_id, rec[1])
end
return {reaped, 1}
`

var reapLua = redis.NewScript(reapScript)

const defaultSweepBatch = 256

// Sweep scans every refresh record and reaps those whose expiry is before
// now. Records that are still valid are never modified, whatever their
// revocation state. Sweep is idempotent and safe to run on several
// replicas at once; it stops early when ctx is cancelled.
//
//	Performance: SCAN in batches of batch keys, one EVALSHA per candidate.
func (s *Store) Sweep(ctx context.Context, now time.Time, batch int) (SweepStats, error) {
	if batch <= 0 {
		batch = defaultSweepBatch
	}

	var stats SweepStats
	scan := func(ctx context.Context, client redis.UniversalClient) error {
		iter := client.Scan(ctx, 0, recordPrefix+"*", int64(batch)).Iterator()
		for iter.Next(ctx) {
			if err := ctx.Err(); err != nil {
				return err
			}
			stats.Scanned++
			if err := s.reap(ctx, iter.Val(), now, &stats); err != nil {
				return err
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}

	if cluster, ok := s.redis.(*redis.ClusterClient); ok {
		err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return scan(ctx, node)
		})
		return stats, err
	}
	return stats, scan(ctx, s.redis)
}

func (s *Store) reap(ctx context.Context, key string, now time.Time, stats *SweepStats) error {
	hash := strings.TrimPrefix(key, recordPrefix)
	res, err := reapLua.Run(ctx, s.redis,
		[]string{key},
		familyPrefix,
		logPrefix,
		userIndexPrefix,
		toMillis(now),
		hash,
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return fmt.Errorf("%w: unexpected reap reply", ErrRedisUnavailable)
	}

	switch res[0] {
	case 1:
		stats.Deleted++
	case 2:
		stats.Deleted++
		stats.ExpiredUnused++
	}
	if res[1] == 1 {
		stats.FamiliesDropped++
	}
	return nil
}
