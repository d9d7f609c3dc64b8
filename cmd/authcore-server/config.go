package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// serverConfig is read from the environment, after an optional .env file.
type serverConfig struct {
	Env      string `env:"APP_ENV" envDefault:"prod"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SigningMethod  string        `env:"JWT_SIGNING_METHOD" envDefault:"ed25519"`
	PrivateKeyFile string        `env:"JWT_PRIVATE_KEY_FILE"`
	PublicKeyFile  string        `env:"JWT_PUBLIC_KEY_FILE"`
	HMACSecret     string        `env:"JWT_HMAC_SECRET"`
	KeyID          string        `env:"JWT_KEY_ID"`
	Issuer         string        `env:"JWT_ISSUER" envDefault:"authcore"`
	Audience       string        `env:"JWT_AUDIENCE"`
	AccessTTL      time.Duration `env:"ACCESS_TTL" envDefault:"5m"`
	RefreshTTL     time.Duration `env:"REFRESH_TTL" envDefault:"168h"`

	LockoutThreshold int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutCooldown  time.Duration `env:"LOCKOUT_COOLDOWN" envDefault:"15m"`
	MaxSessions      int           `env:"MAX_SESSIONS_PER_USER" envDefault:"10"`
	SessionPolicy    string        `env:"SESSION_LIMIT_POLICY" envDefault:"evict_oldest"`
	MFAMaxAttempts   int           `env:"MFA_MAX_ATTEMPTS" envDefault:"5"`
	MFAChallengeTTL  time.Duration `env:"MFA_CHALLENGE_TTL" envDefault:"5m"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"10m"`

	AuditBackend string `env:"AUDIT_BACKEND" envDefault:"sqlite"`
	AuditDSN     string `env:"AUDIT_DSN" envDefault:"authcore-audit.db"`
	UserBackend  string `env:"USER_BACKEND" envDefault:"memory"`
	DatabaseURL  string `env:"DATABASE_URL"`
	AMQPURL      string `env:"AMQP_URL"`

	SeedEmail    string   `env:"SEED_USER_EMAIL"`
	SeedPassword string   `env:"SEED_USER_PASSWORD"`
	SeedRoles    []string `env:"SEED_USER_ROLES" envSeparator:"," envDefault:"user"`

	TrustProxyHeaders bool          `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	OTLPEndpoint      string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func (c serverConfig) dev() bool { return c.Env == "dev" }

// loadConfig loads .env when present and parses the environment.
func loadConfig() (serverConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return serverConfig{}, fmt.Errorf("load .env: %w", err)
	}
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// engineConfig maps the process settings onto the engine defaults. In dev
// mode a missing ed25519 key pair is generated, so tokens do not survive a
// restart.
func (c serverConfig) engineConfig() (authcore.Config, error) {
	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = c.SigningMethod
	cfg.JWT.KeyID = c.KeyID
	cfg.JWT.Issuer = c.Issuer
	cfg.JWT.Audience = c.Audience
	cfg.JWT.AccessTTL = c.AccessTTL
	cfg.JWT.RefreshTTL = c.RefreshTTL

	switch c.SigningMethod {
	case "hs256":
		if c.HMACSecret == "" {
			return cfg, errors.New("JWT_HMAC_SECRET is required for hs256")
		}
		cfg.JWT.PrivateKey = []byte(c.HMACSecret)
	default:
		priv, pub, err := c.loadEdKeys()
		if err != nil {
			return cfg, err
		}
		cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
	}

	cfg.Lockout.Threshold = c.LockoutThreshold
	cfg.Lockout.Cooldown = c.LockoutCooldown
	cfg.Session.MaxPerUser = c.MaxSessions
	cfg.Session.LimitPolicy = c.SessionPolicy
	cfg.MFA.MaxAttempts = c.MFAMaxAttempts
	cfg.MFA.ChallengeTTL = c.MFAChallengeTTL
	cfg.Cleanup.Interval = c.CleanupInterval
	cfg.Alerts.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	return cfg, cfg.Validate()
}

func (c serverConfig) loadEdKeys() ([]byte, []byte, error) {
	if c.PrivateKeyFile == "" && c.PublicKeyFile == "" {
		if !c.dev() {
			return nil, nil, errors.New("JWT_PRIVATE_KEY_FILE and JWT_PUBLIC_KEY_FILE are required")
		}
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, fmt.Errorf("generate dev signing key: %w", err)
		}
		return priv, pub, nil
	}
	priv, err := os.ReadFile(c.PrivateKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read private key: %w", err)
	}
	pub, err := os.ReadFile(c.PublicKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read public key: %w", err)
	}
	return priv, pub, nil
}
