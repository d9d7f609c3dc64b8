package password

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestVerifyLegacyBcrypt(t *testing.T) {
	hasher, err := NewArgon2(cheapConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	legacy, err := bcrypt.GenerateFromPassword([]byte("imported-Passw0rd!"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}

	ok, err := hasher.Verify("imported-Passw0rd!", string(legacy))
	if err != nil || !ok {
		t.Fatalf("expected legacy hash to verify: ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("wrong", string(legacy))
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("expected mismatch for wrong password")
	}

	upgrade, err := hasher.NeedsUpgrade(string(legacy))
	if err != nil {
		t.Fatalf("NeedsUpgrade error: %v", err)
	}
	if !upgrade {
		t.Fatal("expected bcrypt hash to need upgrade")
	}
}

func TestVerifyBrokenBcrypt(t *testing.T) {
	hasher, err := NewArgon2(cheapConfig())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	if _, err := hasher.Verify("x", "$2b$10$short"); err == nil {
		t.Fatal("expected error for truncated bcrypt hash")
	}
}
