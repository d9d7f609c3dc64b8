package auditlog

import (
	"context"
	"strconv"

	"github.com/MrEthical07/authcore"
	"github.com/redis/go-redis/v9"
)

// DefaultStream is the stream key used when none is given.
const DefaultStream = "authcore:audit"

// RedisStreamStore appends events to a Redis stream with XADD. The stream
// is never trimmed; retention is an operator decision.
type RedisStreamStore struct {
	client redis.UniversalClient
	stream string
}

var _ authcore.AuditLog = (*RedisStreamStore)(nil)

func NewRedisStreamStore(client redis.UniversalClient, stream string) *RedisStreamStore {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamStore{client: client, stream: stream}
}

func (s *RedisStreamStore) Record(ctx context.Context, ev authcore.SecurityEvent) error {
	if err := validate(ev); err != nil {
		return err
	}
	md, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return err
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		ID:     "*",
		Values: []any{
			"id", ev.ID,
			"user_id", ev.UserID,
			"action", string(ev.Action),
			"ts", strconv.FormatInt(toMillis(ev.Timestamp), 10),
			"ip", ev.IP,
			"user_agent", ev.UserAgent,
			"session_id", ev.SessionID,
			"family_id", ev.FamilyID,
			"success", strconv.FormatBool(ev.Success),
			"reason", ev.Reason,
			"metadata", md,
		},
	}).Err()
	if err != nil {
		return unavailable("xadd", err)
	}
	return nil
}

// Range returns up to count events from the start of the stream.
func (s *RedisStreamStore) Range(ctx context.Context, count int64) ([]authcore.SecurityEvent, error) {
	msgs, err := s.client.XRangeN(ctx, s.stream, "-", "+", count).Result()
	if err != nil {
		return nil, unavailable("xrange", err)
	}
	out := make([]authcore.SecurityEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, decodeStreamEvent(m.Values))
	}
	return out, nil
}

func decodeStreamEvent(v map[string]any) authcore.SecurityEvent {
	str := func(k string) string {
		s, _ := v[k].(string)
		return s
	}
	ms, _ := strconv.ParseInt(str("ts"), 10, 64)
	success, _ := strconv.ParseBool(str("success"))
	return authcore.SecurityEvent{
		ID:        str("id"),
		UserID:    str("user_id"),
		Action:    authcore.Action(str("action")),
		Timestamp: fromMillis(ms),
		IP:        str("ip"),
		UserAgent: str("user_agent"),
		SessionID: str("session_id"),
		FamilyID:  str("family_id"),
		Success:   success,
		Reason:    str("reason"),
		Metadata:  decodeMetadata(str("metadata")),
	}
}
