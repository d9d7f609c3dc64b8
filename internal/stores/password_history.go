package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrPasswordHistoryBackend = errors.New("password history backend unavailable")

// PasswordHistoryStore keeps the most recent password hashes per user,
// newest first.
type PasswordHistoryStore struct {
	redis redis.UniversalClient
}

func NewPasswordHistoryStore(redisClient redis.UniversalClient) *PasswordHistoryStore {
	return &PasswordHistoryStore{redis: redisClient}
}

func historyKey(userID string) string { return "aph:" + userID }

// Push prepends hash and trims the list to keep entries.
func (s *PasswordHistoryStore) Push(ctx context.Context, userID, hash string, keep int) error {
	if keep <= 0 {
		return nil
	}
	key := historyKey(userID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, hash)
		pipe.LTrim(ctx, key, 0, int64(keep-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPasswordHistoryBackend, err)
	}
	return nil
}

// Recent returns up to n hashes, newest first.
func (s *PasswordHistoryStore) Recent(ctx context.Context, userID string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	hashes, err := s.redis.LRange(ctx, historyKey(userID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPasswordHistoryBackend, err)
	}
	return hashes, nil
}
