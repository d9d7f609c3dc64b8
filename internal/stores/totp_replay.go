package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrTOTPReplayBackend = errors.New("totp replay backend unavailable")

// advanceScript stores counter only if it is greater than the last one
// used, so each TOTP step can be spent at most once per user.
const advanceScript = `
local last = redis.call("GET", KEYS[1])
if last and tonumber(last) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`

var advanceLua = redis.NewScript(advanceScript)

// TOTPReplayStore remembers the last accepted TOTP counter per user.
type TOTPReplayStore struct {
	redis redis.UniversalClient
}

func NewTOTPReplayStore(redisClient redis.UniversalClient) *TOTPReplayStore {
	return &TOTPReplayStore{redis: redisClient}
}

// Advance records counter as used. It returns false when counter is not
// newer than the last accepted one. ttl must outlive the skew window.
func (s *TOTPReplayStore) Advance(ctx context.Context, userID string, counter int64, ttl time.Duration) (bool, error) {
	n, err := advanceLua.Run(ctx, s.redis, []string{"atc:" + userID}, counter, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTOTPReplayBackend, err)
	}
	return n == 1, nil
}
