package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every driver error returned by Store.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrNotFound is returned when a record or family does not exist.
var ErrNotFound = errors.New("refresh: not found")

const (
	familyPrefix    = "arf:"
	userIndexPrefix = "arfu:"
	recordPrefix    = "arr:"
	logPrefix       = "arg:"
)

const (
	rotateStatusUnknown int64 = 0
	rotateStatusReuse   int64 = 1
	rotateStatusExpired int64 = 2
	rotateStatusRotated int64 = 3
)

// revoke_family revokes every live record in the family's generation log
// and marks the family invalidated. Shared by rotate and invalidate.
const revokeFamilyLua = `
local function revoke_family(record_prefix, log_key, family_key, reason, now)
  local members = redis.call("ZRANGE", log_key, 0, -1)
  for _, h in ipairs(members) do
    local rk = record_prefix .. h
    if redis.call("HGET", rk, "revoked") == "0" then
      redis.call("HSET", rk, "revoked", "1", "reason", reason, "revoked_at", now)
    end
  end
  redis.call("HSET", family_key, "status", "invalidated", "reason", reason, "invalidated_at", now)
end
`

const rotateScript = revokeFamilyLua + `
local record_key = KEYS[1]
local record_prefix = ARGV[1]
local family_prefix = ARGV[2]
local log_prefix = ARGV[3]
local next_hash = ARGV[4]
local now = ARGV[5]
local next_iat = ARGV[6]
local next_exp = ARGV[7]

local rec = redis.call("HMGET", record_key, "family", "gen", "exp", "revoked")
if not rec[1] then
  return {0}
end

local family_id = rec[1]
local family_key = family_prefix .. family_id
local log_key = log_prefix .. family_id
local fam = redis.call("HMGET", family_key, "status", "user", "session", "gen")
local user_id = fam[2] or ""
local session_id = fam[3] or ""

if rec[4] == "1" or fam[1] ~= "active" then
  local transitioned = 0
  if fam[1] == "active" then
    revoke_family(record_prefix, log_key, family_key, "REUSE_DETECTED", now)
    transitioned = 1
  end
  return {1, family_id, rec[2], user_id, session_id, transitioned}
end

if tonumber(rec[3]) <= tonumber(now) then
  return {2, family_id, rec[2], user_id, session_id}
end

local next_gen = tonumber(fam[4]) + 1
redis.call("HSET", record_key, "revoked", "1", "reason", "ROTATED", "revoked_at", now)
redis.call("HSET", record_prefix .. next_hash,
  "family", family_id, "gen", next_gen, "iat", next_iat, "exp", next_exp,
  "revoked", "0", "reason", "", "revoked_at", "0")
redis.call("ZADD", log_key, next_gen, next_hash)
redis.call("HSET", family_key, "gen", next_gen)
return {3, family_id, next_gen, user_id, session_id}
`

var rotateLua = redis.NewScript(rotateScript)

const invalidateScript = revokeFamilyLua + `
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status ~= "active" then
  return 0
end
revoke_family(ARGV[1], KEYS[2], KEYS[1], ARGV[2], ARGV[3])
return 1
`

var invalidateLua = redis.NewScript(invalidateScript)

// Store persists token families and refresh records in Redis. Every
// state change that touches more than one key runs as a Lua script, so the
// single-live-record invariant holds across any number of engine replicas.
type Store struct {
	redis redis.UniversalClient
}

// NewStore returns a Store on client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{redis: client}
}

func familyKey(familyID string) string  { return familyPrefix + familyID }
func userIndexKey(userID string) string { return userIndexPrefix + userID }
func recordKey(hash string) string      { return recordPrefix + hash }
func logKey(familyID string) string     { return logPrefix + familyID }

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// CreateFamily stores a new active family together with its generation-0
// record.
//
//	Performance: one MULTI/EXEC with 4 commands.
func (s *Store) CreateFamily(ctx context.Context, fam Family, rec Record) error {
	if fam.ID == "" || fam.UserID == "" || rec.Hash == "" {
		return errors.New("refresh: family id, user id and record hash are required")
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, familyKey(fam.ID),
			"user", fam.UserID,
			"session", fam.SessionID,
			"created", toMillis(fam.CreatedAt),
			"gen", 0,
			"status", string(StatusActive),
			"reason", "",
			"invalidated_at", 0,
		)
		pipe.SAdd(ctx, userIndexKey(fam.UserID), fam.ID)
		pipe.HSet(ctx, recordKey(rec.Hash),
			"family", fam.ID,
			"gen", 0,
			"iat", toMillis(rec.IssuedAt),
			"exp", toMillis(rec.ExpiresAt),
			"revoked", "0",
			"reason", "",
			"revoked_at", 0,
		)
		pipe.ZAdd(ctx, logKey(fam.ID), redis.Z{Score: 0, Member: rec.Hash})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Rotate atomically consumes the record at presentedHash and, when it is
// live, unexpired and its family active, stores next as the following
// generation. A revoked record, or any record of a non-active family, is
// treated as reuse and the whole family is invalidated in the same script.
//
// Two concurrent calls with the same presentedHash cannot both rotate: the
// loser sees revoked=1 and takes the reuse path.
//
//	Performance: one EVALSHA.
func (s *Store) Rotate(ctx context.Context, presentedHash string, next Record, now time.Time) (RotateResult, error) {
	raw, err := rotateLua.Run(ctx, s.redis,
		[]string{recordKey(presentedHash)},
		recordPrefix,
		familyPrefix,
		logPrefix,
		next.Hash,
		toMillis(now),
		toMillis(next.IssuedAt),
		toMillis(next.ExpiresAt),
	).Result()
	if err != nil {
		return RotateResult{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	vals, ok := raw.([]interface{})
	if !ok || len(vals) == 0 {
		return RotateResult{}, fmt.Errorf("%w: unexpected rotate reply", ErrRedisUnavailable)
	}
	code, ok := vals[0].(int64)
	if !ok {
		return RotateResult{}, fmt.Errorf("%w: unexpected rotate status", ErrRedisUnavailable)
	}
	if code == rotateStatusUnknown {
		return RotateResult{Outcome: OutcomeUnknown}, nil
	}
	if len(vals) < 5 {
		return RotateResult{}, fmt.Errorf("%w: short rotate reply", ErrRedisUnavailable)
	}

	res := RotateResult{
		FamilyID:   replyString(vals[1]),
		Generation: uint64(replyInt(vals[2])),
		UserID:     replyString(vals[3]),
		SessionID:  replyString(vals[4]),
	}
	switch code {
	case rotateStatusReuse:
		res.Outcome = OutcomeReuse
		res.Invalidated = len(vals) > 5 && replyInt(vals[5]) == 1
	case rotateStatusExpired:
		res.Outcome = OutcomeExpired
	case rotateStatusRotated:
		res.Outcome = OutcomeRotated
	default:
		return RotateResult{}, fmt.Errorf("%w: unknown rotate status %d", ErrRedisUnavailable, code)
	}
	return res, nil
}

// InvalidateFamily revokes every live record of the family with reason and
// marks it invalidated. It reports whether this call performed the
// transition; invalidating an already invalidated family is a no-op.
func (s *Store) InvalidateFamily(ctx context.Context, familyID string, reason Reason, now time.Time) (bool, error) {
	if !reason.Valid() {
		return false, fmt.Errorf("refresh: invalid reason %q", reason)
	}

	n, err := invalidateLua.Run(ctx, s.redis,
		[]string{familyKey(familyID), logKey(familyID)},
		recordPrefix,
		string(reason),
		toMillis(now),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n < 0 {
		return false, ErrNotFound
	}
	return n == 1, nil
}

// Lookup returns the record stored under hash.
func (s *Store) Lookup(ctx context.Context, hash string) (*Record, error) {
	m, err := s.redis.HGetAll(ctx, recordKey(hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return decodeRecord(hash, m), nil
}

// GetFamily returns the family with id.
func (s *Store) GetFamily(ctx context.Context, familyID string) (*Family, error) {
	m, err := s.redis.HGetAll(ctx, familyKey(familyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return decodeFamily(familyID, m), nil
}

// Records returns the family's generation log in generation order.
//
//	Performance: 1 ZRANGE + one pipelined HGETALL per record.
func (s *Store) Records(ctx context.Context, familyID string) ([]Record, error) {
	hashes, err := s.redis.ZRange(ctx, logKey(familyID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(hashes))
	for i, h := range hashes {
		cmds[i] = pipe.HGetAll(ctx, recordKey(h))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]Record, 0, len(hashes))
	for i, cmd := range cmds {
		m := cmd.Val()
		if len(m) == 0 {
			continue
		}
		out = append(out, *decodeRecord(hashes[i], m))
	}
	return out, nil
}

// FamiliesForUser returns the ids of every family still indexed for the
// user, active or not.
func (s *Store) FamiliesForUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, userIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

func decodeFamily(id string, m map[string]string) *Family {
	return &Family{
		ID:            id,
		UserID:        m["user"],
		SessionID:     m["session"],
		CreatedAt:     fromMillis(parseInt(m["created"])),
		Generation:    uint64(parseInt(m["gen"])),
		Status:        Status(m["status"]),
		Reason:        Reason(m["reason"]),
		InvalidatedAt: fromMillis(parseInt(m["invalidated_at"])),
	}
}

func decodeRecord(hash string, m map[string]string) *Record {
	return &Record{
		Hash:       hash,
		FamilyID:   m["family"],
		Generation: uint64(parseInt(m["gen"])),
		IssuedAt:   fromMillis(parseInt(m["iat"])),
		ExpiresAt:  fromMillis(parseInt(m["exp"])),
		Revoked:    m["revoked"] == "1",
		Reason:     Reason(m["reason"]),
		RevokedAt:  fromMillis(parseInt(m["revoked_at"])),
	}
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func replyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func replyInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		return parseInt(t)
	default:
		return 0
	}
}
