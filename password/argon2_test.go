package password

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

// cheapConfig keeps the KDF at its floor so the table below stays fast.
func cheapConfig() Config {
	return Config{
		Memory:      minMemoryKB,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func mustHasher(t *testing.T, cfg Config) *Argon2 {
	t.Helper()
	h, err := NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	return h
}

func mustHash(t *testing.T, h *Argon2, pw string) string {
	t.Helper()
	hash, err := h.Hash(pw)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	return hash
}

func TestHashEncodesParameters(t *testing.T) {
	h := mustHasher(t, DefaultConfig())
	hash := mustHash(t, h, "Correct-Horse-42")

	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}
	if again := mustHash(t, h, "Correct-Horse-42"); again == hash {
		t.Fatal("two hashes of one password share a salt")
	}
}

func TestVerify(t *testing.T) {
	h := mustHasher(t, cheapConfig())
	hash := mustHash(t, h, "Correct-Horse-42")

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
		wantErr  error
	}{
		{name: "match", password: "Correct-Horse-42", hash: hash, want: true},
		{name: "mismatch", password: "correct-horse-42", hash: hash},
		{name: "not phc", password: "x", hash: "not-a-phc-hash", wantErr: ErrMalformedHash},
		{name: "wrong version", password: "Correct-Horse-42", hash: strings.Replace(hash, "$v=19$", "$v=18$", 1), wantErr: ErrMalformedHash},
		{name: "parameters below floor", password: "x", hash: "$argon2id$v=19$m=1,t=1,p=1$AAAA$AAAA", wantErr: ErrMalformedHash},
		{name: "oversized input", password: strings.Repeat("c", DefaultMaxPasswordBytes+1), hash: hash, wantErr: ErrPasswordTooLong},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := h.Verify(tc.password, tc.hash)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if ok != tc.want {
				t.Fatalf("Verify = %v, want %v", ok, tc.want)
			}
		})
	}
}

func TestHashInputBounds(t *testing.T) {
	cfg := cheapConfig()
	cfg.MaxPasswordBytes = 64
	h := mustHasher(t, cfg)

	if _, err := h.Hash(""); !errors.Is(err, ErrEmptyPassword) {
		t.Fatalf("empty: expected ErrEmptyPassword, got %v", err)
	}
	if _, err := h.Hash(strings.Repeat("a", 65)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("65 bytes: expected ErrPasswordTooLong, got %v", err)
	}

	exact := strings.Repeat("b", 64)
	ok, err := h.Verify(exact, mustHash(t, h, exact))
	if err != nil || !ok {
		t.Fatalf("64 bytes: ok=%v err=%v", ok, err)
	}

	def := mustHasher(t, cheapConfig())
	if _, err := def.Hash(strings.Repeat("d", DefaultMaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("default cap not applied: %v", err)
	}
}

func TestNeedsUpgrade(t *testing.T) {
	weak := mustHasher(t, cheapConfig())
	strong := mustHasher(t, DefaultConfig())

	weakHash := mustHash(t, weak, "upgrade-me")
	if up, err := strong.NeedsUpgrade(weakHash); err != nil || !up {
		t.Fatalf("weaker parameters: up=%v err=%v", up, err)
	}
	if up, err := weak.NeedsUpgrade(weakHash); err != nil || up {
		t.Fatalf("current parameters: up=%v err=%v", up, err)
	}
	if _, err := weak.NeedsUpgrade("garbage"); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
}

func TestVerifyAcceptsPaddedEncoding(t *testing.T) {
	h := mustHasher(t, cheapConfig())
	hash := mustHash(t, h, "padded-encoding")

	parts := strings.Split(hash, "$")
	salt, _ := base64.RawStdEncoding.DecodeString(parts[4])
	key, _ := base64.RawStdEncoding.DecodeString(parts[5])
	parts[4] = base64.StdEncoding.EncodeToString(salt)
	parts[5] = base64.StdEncoding.EncodeToString(key)

	ok, err := h.Verify("padded-encoding", strings.Join(parts, "$"))
	if err != nil || !ok {
		t.Fatalf("Verify padded failed: ok=%v err=%v", ok, err)
	}
}
