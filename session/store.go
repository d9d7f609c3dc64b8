package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every driver error returned by Store.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = errors.New("session: not found")

// ErrLimitReached is returned by Register under the reject policy when the
// user already has the maximum number of active sessions.
var ErrLimitReached = errors.New("session: limit reached")

// ErrEnded is returned by Touch for a session that has already ended.
var ErrEnded = errors.New("session: ended")

const (
	sessionPrefix   = "as:"
	userIndexPrefix = "asu:"

	maxTouchRetries = 3
)

// Lua helpers that understand the fixed blob header written by Encode.
const blobLua = `
local function be64(n)
  local b = {}
  for i = 8, 1, -1 do
    b[i] = n % 256
    n = math.floor(n / 256)
  end
  return string.char(unpack(b))
end

local function end_blob(data, code, now)
  return string.sub(data, 1, 1) .. string.char(2, tonumber(code)) .. be64(tonumber(now)) .. string.sub(data, 12)
end

local function read_short(data, idx)
  local n = string.byte(data, idx)
  if not n then
    return "", idx
  end
  return string.sub(data, idx + 1, idx + n), idx + 1 + n
end

local function owners(data)
  local user_id, idx = read_short(data, 28)
  local family_id = read_short(data, idx)
  return user_id, family_id
end
`

// registerScript drops index entries whose blob has expired, evicts the
// oldest active sessions until one slot is free (or refuses, under the
// reject policy), then stores the new session. With an empty blob it only
// evicts down to max.
const registerScript = blobLua + `
local session_key = KEYS[1]
local index_key = KEYS[2]
local session_id = ARGV[1]
local blob = ARGV[2]
local created = ARGV[3]
local max = tonumber(ARGV[4])
local reject = ARGV[5] == "1"
local ttl = ARGV[6]
local session_prefix = ARGV[7]
local now = ARGV[8]
local retention = ARGV[9]
local reason = ARGV[10]

for _, id in ipairs(redis.call("ZRANGE", index_key, 0, -1)) do
  if redis.call("EXISTS", session_prefix .. id) == 0 then
    redis.call("ZREM", index_key, id)
  end
end

local slots = 0
if blob ~= "" then
  slots = 1
end

local out = {1}
local count = redis.call("ZCARD", index_key)
if max > 0 and count + slots > max then
  if reject and slots == 1 then
    return {0}
  end
  local victims = redis.call("ZRANGE", index_key, 0, count + slots - max - 1)
  for _, id in ipairs(victims) do
    redis.call("ZREM", index_key, id)
    local key = session_prefix .. id
    local data = redis.call("GET", key)
    if data and string.byte(data, 2) == 1 then
      redis.call("SET", key, end_blob(data, reason, now), "PX", retention)
      local _, family_id = owners(data)
      table.insert(out, id)
      table.insert(out, family_id)
    end
  end
end

if slots == 1 then
  redis.call("SET", session_key, blob, "PX", ttl)
  redis.call("ZADD", index_key, created, session_id)
end
return out
`

var registerLua = redis.NewScript(registerScript)

const endScript = blobLua + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end
local user_id, family_id = owners(data)
if string.byte(data, 2) ~= 1 then
  return {2, user_id, family_id}
end
redis.call("SET", KEYS[1], end_blob(data, ARGV[1], ARGV[2]), "PX", ARGV[3])
redis.call("ZREM", ARGV[4] .. user_id, ARGV[5])
return {1, user_id, family_id}
`

var endLua = redis.NewScript(endScript)

// Limit describes how many concurrent sessions a user may hold. Max <= 0
// disables the limit.
type Limit struct {
	Max    int
	Reject bool
}

// Evicted identifies a session ended to make room for a new one.
type Evicted struct {
	SessionID string
	FamilyID  string
}

// EndResult is returned by End.
type EndResult struct {
	UserID   string
	FamilyID string
	// Changed is false when the session had already ended.
	Changed bool
}

// Store is the Redis-backed session registry.
//
// Active sessions expire with their refresh lifetime; ended sessions are
// kept for Retention so they stay visible to audits and listings.
type Store struct {
	redis     redis.UniversalClient
	ttl       time.Duration
	retention time.Duration
}

// NewStore returns a registry. ttl bounds the life of an active session
// blob and is extended on every Touch.
func NewStore(client redis.UniversalClient, ttl, retention time.Duration) *Store {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{redis: client, ttl: ttl, retention: retention}
}

func sessionKey(id string) string   { return sessionPrefix + id }
func userIndexKey(id string) string { return userIndexPrefix + id }

// Register stores sess and applies limit in one script. Sessions evicted to
// make room are ended with EndSessionLimit and returned so the caller can
// invalidate their families.
//
//	Performance: one EVALSHA; O(n) in the user's session count.
func (s *Store) Register(ctx context.Context, sess *Session, limit Limit) ([]Evicted, error) {
	if sess.ID == "" || sess.UserID == "" {
		return nil, errors.New("session: id and user id are required")
	}
	sess.Status = StatusActive
	sess.EndReason = EndNone
	data, err := Encode(sess)
	if err != nil {
		return nil, err
	}

	reject := "0"
	if limit.Reject {
		reject = "1"
	}
	return s.runRegister(ctx, sess.UserID, sess.ID, data, sess.CreatedAt, limit.Max, reject, sess.CreatedAt)
}

// EnforceLimit ends the oldest active sessions of userID until at most max
// remain.
func (s *Store) EnforceLimit(ctx context.Context, userID string, max int, now time.Time) ([]Evicted, error) {
	if max <= 0 {
		return nil, nil
	}
	return s.runRegister(ctx, userID, "", nil, time.Time{}, max, "0", now)
}

func (s *Store) runRegister(ctx context.Context, userID, sessionID string, blob []byte, created time.Time, max int, reject string, now time.Time) ([]Evicted, error) {
	code, _ := EndSessionLimit.code()
	raw, err := registerLua.Run(ctx, s.redis,
		[]string{sessionKey(sessionID), userIndexKey(userID)},
		sessionID,
		blob,
		created.UnixMilli(),
		max,
		reject,
		s.ttl.Milliseconds(),
		sessionPrefix,
		now.UnixMilli(),
		s.retention.Milliseconds(),
		int(code),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty register reply", ErrRedisUnavailable)
	}
	if ok, _ := raw[0].(int64); ok == 0 {
		return nil, ErrLimitReached
	}

	var evicted []Evicted
	for i := 1; i+1 < len(raw); i += 2 {
		sid, _ := raw[i].(string)
		fid, _ := raw[i+1].(string)
		evicted = append(evicted, Evicted{SessionID: sid, FamilyID: fid})
	}
	return evicted, nil
}

// Get returns the session with id, active or ended.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.ID = id
	return sess, nil
}

// ListActive returns the user's active sessions, oldest first. Index
// entries whose blob has expired are removed on the way.
//
//	Performance: 1 ZRANGE + 1 pipelined GET batch.
func (s *Store) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	indexKey := userIndexKey(userID)
	ids, err := s.redis.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var (
		out   = make([]*Session, 0, len(ids))
		stale []interface{}
	)
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			stale = append(stale, ids[i])
			continue
		}
		sess, err := Decode(data)
		if err != nil || !sess.Active() {
			stale = append(stale, ids[i])
			continue
		}
		sess.ID = ids[i]
		out = append(out, sess)
	}

	if len(stale) > 0 {
		if err := s.redis.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return out, nil
}

// End marks the session ended with reason and removes it from the active
// index. Ending an ended session is a no-op reported by Changed=false.
func (s *Store) End(ctx context.Context, id string, reason EndReason, now time.Time) (EndResult, error) {
	code, ok := reason.code()
	if !ok || reason == EndNone {
		return EndResult{}, fmt.Errorf("session: invalid end reason %q", reason)
	}

	raw, err := endLua.Run(ctx, s.redis,
		[]string{sessionKey(id)},
		int(code),
		now.UnixMilli(),
		s.retention.Milliseconds(),
		userIndexPrefix,
		id,
	).Slice()
	if err != nil {
		return EndResult{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(raw) == 0 {
		return EndResult{}, fmt.Errorf("%w: empty end reply", ErrRedisUnavailable)
	}
	status, _ := raw[0].(int64)
	if status == 0 || len(raw) < 3 {
		return EndResult{}, ErrNotFound
	}

	userID, _ := raw[1].(string)
	familyID, _ := raw[2].(string)
	return EndResult{UserID: userID, FamilyID: familyID, Changed: status == 1}, nil
}

// Touch sets last-seen-at and extends the blob TTL. It uses optimistic
// locking so a concurrent End is never overwritten; an ended session is
// left as is and reported with ErrEnded.
func (s *Store) Touch(ctx context.Context, id string, now time.Time) error {
	key := sessionKey(id)

	for attempt := 0; attempt < maxTouchRetries; attempt++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}

			sess, err := Decode(data)
			if err != nil {
				return err
			}
			if !sess.Active() {
				return ErrEnded
			}
			sess.LastSeenAt = now

			encoded, err := Encode(sess)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.ttl)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrEnded), errors.Is(err, errCorrupt):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return fmt.Errorf("%w: touch contention", ErrRedisUnavailable)
}

// CountActive returns the size of the user's active index.
func (s *Store) CountActive(ctx context.Context, userID string) (int, error) {
	n, err := s.redis.ZCard(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// Ping measures a Redis round trip.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}
