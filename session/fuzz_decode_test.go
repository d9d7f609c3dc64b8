package session

import (
	"testing"
	"time"
)

// FuzzSessionDecode feeds arbitrary bytes to Decode. It must never panic,
// and anything it accepts must re-encode to the same bytes.
func FuzzSessionDecode(f *testing.F) {
	encoded, err := Encode(&Session{
		UserID:     "user1",
		FamilyID:   "fam1",
		UserAgent:  "curl/8.0",
		IP:         "203.0.113.9",
		CreatedAt:  time.UnixMilli(1_700_000_000_000),
		LastSeenAt: time.UnixMilli(1_700_000_001_000),
		Status:     StatusActive,
	})
	if err != nil {
		f.Fatal(err)
	}

	f.Add(encoded)
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{2, 1, 0})
	f.Add(encoded[:headerSize])
	f.Add(encoded[:len(encoded)-1])

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(s)
		if err != nil {
			t.Fatalf("re-encode of decoded session failed: %v", err)
		}
		if string(again) != string(data) {
			t.Fatalf("round trip mismatch")
		}
	})
}
