package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T) serverConfig {
	t.Helper()
	var cfg serverConfig
	require.NoError(t, env.Parse(&cfg))
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := parse(t)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 168*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, "sqlite", cfg.AuditBackend)
	assert.Equal(t, []string{"user"}, cfg.SeedRoles)
	assert.False(t, cfg.TrustProxyHeaders)
}

func TestProdRequiresKeys(t *testing.T) {
	_, err := parse(t).engineConfig()
	assert.Error(t, err)
}

func TestDevGeneratesKeys(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("MAX_SESSIONS_PER_USER", "3")
	t.Setenv("SESSION_LIMIT_POLICY", "reject")

	ecfg, err := parse(t).engineConfig()
	require.NoError(t, err)
	assert.Len(t, ecfg.JWT.PrivateKey, ed25519.PrivateKeySize)
	assert.Equal(t, 3, ecfg.Session.MaxPerUser)
	assert.Equal(t, "reject", ecfg.Session.LimitPolicy)
	assert.True(t, ecfg.Metrics.Enabled)
}

func TestKeysFromPEMFiles(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	dir := t.TempDir()

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	privPath := filepath.Join(dir, "key.pem")
	pubPath := filepath.Join(dir, "key.pub.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600))
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))

	t.Setenv("JWT_PRIVATE_KEY_FILE", privPath)
	t.Setenv("JWT_PUBLIC_KEY_FILE", pubPath)
	t.Setenv("JWT_KEY_ID", "k1")

	ecfg, err := parse(t).engineConfig()
	require.NoError(t, err)
	assert.Equal(t, "k1", ecfg.JWT.KeyID)
}

func TestHS256NeedsSecret(t *testing.T) {
	t.Setenv("JWT_SIGNING_METHOD", "hs256")
	_, err := parse(t).engineConfig()
	assert.ErrorContains(t, err, "JWT_HMAC_SECRET")

	t.Setenv("JWT_HMAC_SECRET", "0123456789abcdef0123456789abcdef")
	_, err = parse(t).engineConfig()
	assert.NoError(t, err)
}

func TestInvalidDurationFailsParse(t *testing.T) {
	t.Setenv("ACCESS_TTL", "soon")
	var cfg serverConfig
	assert.Error(t, env.Parse(&cfg))
}
