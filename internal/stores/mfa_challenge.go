package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeNotFound = errors.New("mfa challenge not found")
	ErrChallengeBackend  = errors.New("mfa challenge backend unavailable")
)

// ChallengeOutcome is the result of presenting a code to a challenge.
type ChallengeOutcome int

const (
	// ChallengeGone: the challenge does not exist (never issued, consumed,
	// exhausted or expired).
	ChallengeGone ChallengeOutcome = iota
	ChallengeExpired
	ChallengePassed
	ChallengeFailed
	// ChallengeExhausted: this failure used the last attempt and the
	// challenge was deleted.
	ChallengeExhausted
)

// MFAChallenge is a pending second-factor verification.
type MFAChallenge struct {
	ID        string
	UserID    string
	Method    string
	Purpose   string
	SessionID string
	// CodeHash is set for emailed codes only.
	CodeHash  string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}

// ChallengeResult carries the outcome and, when passed, the challenge as it
// was at consumption.
type ChallengeResult struct {
	Outcome   ChallengeOutcome
	Attempts  int
	Challenge *MFAChallenge
}

// consumeCodeScript compares the stored code hash and deletes the
// challenge on match in the same step, so a code can pass at most once.
const consumeCodeScript = `
local key = KEYS[1]
local h = redis.call("HMGET", key, "code", "exp", "attempts")
if not h[2] then
  return {0}
end
if tonumber(h[2]) <= tonumber(ARGV[2]) then
  redis.call("DEL", key)
  return {1}
end
if h[1] ~= "" and h[1] == ARGV[1] then
  local all = redis.call("HGETALL", key)
  redis.call("DEL", key)
  local out = {2}
  for _, v in ipairs(all) do
    table.insert(out, v)
  end
  return out
end
local attempts = redis.call("HINCRBY", key, "attempts", 1)
if attempts >= tonumber(ARGV[3]) then
  redis.call("DEL", key)
  return {4, attempts}
end
return {3, attempts}
`

var consumeCodeLua = redis.NewScript(consumeCodeScript)

// failureScript counts a failed attempt for a challenge verified outside
// Redis (TOTP).
const failureScript = `
local key = KEYS[1]
local exp = redis.call("HGET", key, "exp")
if not exp then
  return {0}
end
if tonumber(exp) <= tonumber(ARGV[1]) then
  redis.call("DEL", key)
  return {1}
end
local attempts = redis.call("HINCRBY", key, "attempts", 1)
if attempts >= tonumber(ARGV[2]) then
  redis.call("DEL", key)
  return {4, attempts}
end
return {3, attempts}
`

var failureLua = redis.NewScript(failureScript)

// MFAChallengeStore keeps challenges as Redis hashes under amc:{id}.
type MFAChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewMFAChallengeStore(redisClient redis.UniversalClient) *MFAChallengeStore {
	return &MFAChallengeStore{redis: redisClient, prefix: "amc:"}
}

func (s *MFAChallengeStore) key(id string) string {
	return s.prefix + id
}

// Save stores ch. ttl bounds the key's life in Redis; the exp field,
// checked against the caller's clock, is authoritative.
func (s *MFAChallengeStore) Save(ctx context.Context, ch *MFAChallenge, ttl time.Duration) error {
	if ch.ID == "" || ch.UserID == "" || ttl <= 0 {
		return errors.New("mfa challenge requires id, user and a positive ttl")
	}

	key := s.key(ch.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"user", ch.UserID,
			"method", ch.Method,
			"purpose", ch.Purpose,
			"session", ch.SessionID,
			"code", ch.CodeHash,
			"attempts", ch.Attempts,
			"created", ch.CreatedAt.UnixMilli(),
			"exp", ch.ExpiresAt.UnixMilli(),
		)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get returns the challenge, or ErrChallengeNotFound. Expiry is judged by
// the caller against its own clock.
func (s *MFAChallengeStore) Get(ctx context.Context, id string) (*MFAChallenge, error) {
	m, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if len(m) == 0 {
		return nil, ErrChallengeNotFound
	}
	return decodeChallenge(id, m), nil
}

// ConsumeCode checks codeHash against an emailed-code challenge.
func (s *MFAChallengeStore) ConsumeCode(ctx context.Context, id, codeHash string, maxAttempts int, now time.Time) (ChallengeResult, error) {
	raw, err := consumeCodeLua.Run(ctx, s.redis, []string{s.key(id)}, codeHash, now.UnixMilli(), maxAttempts).Slice()
	if err != nil {
		return ChallengeResult{}, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	res, err := parseChallengeReply(raw)
	if err != nil {
		return ChallengeResult{}, err
	}
	if res.Outcome == ChallengePassed {
		m := make(map[string]string, (len(raw)-1)/2)
		for i := 1; i+1 < len(raw); i += 2 {
			k, _ := raw[i].(string)
			v, _ := raw[i+1].(string)
			m[k] = v
		}
		res.Challenge = decodeChallenge(id, m)
	}
	return res, nil
}

// RecordFailure counts a failed attempt and deletes the challenge once
// maxAttempts is reached.
func (s *MFAChallengeStore) RecordFailure(ctx context.Context, id string, maxAttempts int, now time.Time) (ChallengeResult, error) {
	raw, err := failureLua.Run(ctx, s.redis, []string{s.key(id)}, now.UnixMilli(), maxAttempts).Slice()
	if err != nil {
		return ChallengeResult{}, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return parseChallengeReply(raw)
}

// Delete removes the challenge and reports whether it existed. A TOTP
// challenge is consumed by the caller that wins this delete.
func (s *MFAChallengeStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return n > 0, nil
}

func parseChallengeReply(raw []interface{}) (ChallengeResult, error) {
	if len(raw) == 0 {
		return ChallengeResult{}, fmt.Errorf("%w: empty reply", ErrChallengeBackend)
	}
	code, _ := raw[0].(int64)

	var res ChallengeResult
	switch code {
	case 0:
		res.Outcome = ChallengeGone
	case 1:
		res.Outcome = ChallengeExpired
	case 2:
		res.Outcome = ChallengePassed
	case 3:
		res.Outcome = ChallengeFailed
	case 4:
		res.Outcome = ChallengeExhausted
	default:
		return ChallengeResult{}, fmt.Errorf("%w: unknown status %d", ErrChallengeBackend, code)
	}
	if (code == 3 || code == 4) && len(raw) > 1 {
		n, _ := raw[1].(int64)
		res.Attempts = int(n)
	}
	return res, nil
}

func decodeChallenge(id string, m map[string]string) *MFAChallenge {
	attempts, _ := strconv.Atoi(m["attempts"])
	created, _ := strconv.ParseInt(m["created"], 10, 64)
	exp, _ := strconv.ParseInt(m["exp"], 10, 64)
	return &MFAChallenge{
		ID:        id,
		UserID:    m["user"],
		Method:    m["method"],
		Purpose:   m["purpose"],
		SessionID: m["session"],
		CodeHash:  m["code"],
		Attempts:  attempts,
		CreatedAt: time.UnixMilli(created),
		ExpiresAt: time.UnixMilli(exp),
	}
}
