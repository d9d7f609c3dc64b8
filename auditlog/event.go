package auditlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore"
)

var (
	// ErrStoreUnavailable wraps driver failures.
	ErrStoreUnavailable = errors.New("audit store unavailable")
	// ErrInvalidEvent rejects events missing an id, action or timestamp.
	ErrInvalidEvent = errors.New("invalid security event")
)

const tableName = "security_events"

func validate(ev authcore.SecurityEvent) error {
	switch {
	case ev.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	case ev.Action == "":
		return fmt.Errorf("%w: missing action", ErrInvalidEvent)
	case ev.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	return nil
}

func encodeMetadata(md map[string]string) (string, error) {
	if len(md) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("%w: metadata: %v", ErrInvalidEvent, err)
	}
	return string(raw), nil
}

func decodeMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var md map[string]string
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil
	}
	return md
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
