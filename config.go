package authcore

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/password"
)

// Config is the full engine configuration. Start from DefaultConfig and
// override fields; Build validates the result.
type Config struct {
	JWT             JWTConfig
	Session         SessionConfig
	Lockout         LockoutConfig
	MFA             MFAConfig
	Password        PasswordConfig
	PasswordPolicy  password.Policy
	PasswordHistory PasswordHistoryConfig
	RateLimit       RateLimitConfig
	Alerts          AlertConfig
	Metrics         MetricsConfig
	Cleanup         CleanupConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access and MFA token signing. RefreshTTL is the
// lifetime of each refresh token; every rotation starts a new one.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFATokenTTL   time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// KeyID is written to the kid header; VerifyKeys maps kid to public key
	// so signing keys can be rolled without a flag day.
	KeyID      string
	VerifyKeys map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// Session limit policies.
const (
	LimitEvictOldest = "evict_oldest"
	LimitReject      = "reject"
)

// SessionConfig bounds concurrent sessions per user. Active sessions live
// as long as their refresh family can; ended ones are kept for Retention.
type SessionConfig struct {
	MaxPerUser  int // 0 disables the limit
	LimitPolicy string
	Retention   time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// LockoutConfig locks an account after Threshold failed logins with no gap
// longer than Window, for Cooldown.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
	Cooldown  time.Duration
}

// RateLimitConfig holds fixed-window throttles. A zero limit disables the
// throttle.
type RateLimitConfig struct {
	LoginPerIP      int
	LoginWindow     time.Duration
	MFAIssuePerUser int
	MFAIssueWindow  time.Duration
}

// MFAConfig configures challenges and the TOTP algorithm.
type MFAConfig struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
	OTPDigits    int

	TOTPIssuer    string
	TOTPDigits    int
	TOTPPeriod    int
	TOTPAlgorithm string // SHA1, SHA256 or SHA512
	TOTPSkew      int
}

// PasswordConfig holds Argon2id parameters for new hashes. Stored hashes
// with weaker parameters or in bcrypt format are rehashed on the next
// successful login when UpgradeOnLogin is set.
type PasswordConfig struct {
	Memory         uint32 // in KiB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// PasswordHistoryConfig rejects new passwords matching any of the last
// Depth hashes.
type PasswordHistoryConfig struct {
	Enabled bool
	Depth   int
}

// AlertConfig configures asynchronous delivery of security alerts after
// their audit event is durable.
type AlertConfig struct {
	Enabled        bool
	BufferSize     int
	DropIfFull     bool
	DeliverTimeout time.Duration
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// CleanupConfig drives the background Sweeper.
type CleanupConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultConfig returns a Config with secure defaults. JWT keys must still
// be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			MFATokenTTL:   5 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			MaxPerUser:  10,
			LimitPolicy: LimitEvictOldest,
			Retention:   30 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Window:    15 * time.Minute,
			Cooldown:  15 * time.Minute,
		},
		MFA: MFAConfig{
			ChallengeTTL:  5 * time.Minute,
			MaxAttempts:   5,
			OTPDigits:     6,
			TOTPIssuer:    "authcore",
			TOTPDigits:    6,
			TOTPPeriod:    30,
			TOTPAlgorithm: "SHA1",
			TOTPSkew:      1,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		PasswordPolicy: password.DefaultPolicy(),
		PasswordHistory: PasswordHistoryConfig{
			Enabled: true,
			Depth:   5,
		},
		RateLimit: RateLimitConfig{
			LoginPerIP:      20,
			LoginWindow:     time.Minute,
			MFAIssuePerUser: 5,
			MFAIssueWindow:  10 * time.Minute,
		},
		Alerts: AlertConfig{
			Enabled:        true,
			BufferSize:     1024,
			DropIfFull:     true,
			DeliverTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Cleanup: CleanupConfig{
			Interval:  10 * time.Minute,
			BatchSize: 500,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must exceed AccessTTL")
	}
	if c.JWT.MFATokenTTL < 0 {
		return errors.New("JWT MFATokenTTL must be >= 0")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	if c.Session.MaxPerUser < 0 {
		return errors.New("Session MaxPerUser must be >= 0")
	}
	switch c.Session.LimitPolicy {
	case LimitEvictOldest, LimitReject:
	default:
		return errors.New("Session LimitPolicy must be 'evict_oldest' or 'reject'")
	}
	if c.Session.Retention < 0 {
		return errors.New("Session Retention must be >= 0")
	}

	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.Window <= 0 {
			return errors.New("Lockout Window must be > 0")
		}
		if c.Lockout.Cooldown <= 0 {
			return errors.New("Lockout Cooldown must be > 0")
		}
	}

	if c.RateLimit.LoginPerIP < 0 || c.RateLimit.MFAIssuePerUser < 0 {
		return errors.New("RateLimit limits must be >= 0")
	}
	if c.RateLimit.LoginPerIP > 0 && c.RateLimit.LoginWindow <= 0 {
		return errors.New("RateLimit LoginWindow must be > 0 when LoginPerIP is set")
	}
	if c.RateLimit.MFAIssuePerUser > 0 && c.RateLimit.MFAIssueWindow <= 0 {
		return errors.New("RateLimit MFAIssueWindow must be > 0 when MFAIssuePerUser is set")
	}

	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("MFA ChallengeTTL must be > 0")
	}
	if c.MFA.MaxAttempts <= 0 {
		return errors.New("MFA MaxAttempts must be > 0")
	}
	if c.MFA.OTPDigits < 6 || c.MFA.OTPDigits > 10 {
		return errors.New("MFA OTPDigits must be between 6 and 10")
	}
	if c.MFA.TOTPDigits != 6 && c.MFA.TOTPDigits != 8 {
		return errors.New("MFA TOTPDigits must be 6 or 8")
	}
	if c.MFA.TOTPPeriod < 15 {
		return errors.New("MFA TOTPPeriod must be >= 15 seconds")
	}
	if c.MFA.TOTPSkew < 0 || c.MFA.TOTPSkew > 2 {
		return errors.New("MFA TOTPSkew must be between 0 and 2")
	}
	switch strings.ToUpper(c.MFA.TOTPAlgorithm) {
	case "", "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("MFA TOTPAlgorithm must be SHA1, SHA256, or SHA512")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if err := c.PasswordPolicy.Validate(); err != nil {
		return err
	}
	if c.PasswordHistory.Enabled && c.PasswordHistory.Depth <= 0 {
		return errors.New("PasswordHistory Depth must be > 0 when enabled")
	}

	if c.Alerts.Enabled && c.Alerts.BufferSize <= 0 {
		return errors.New("Alerts BufferSize must be > 0 when alerts are enabled")
	}
	if c.Cleanup.Interval < 0 {
		return errors.New("Cleanup Interval must be >= 0")
	}
	if c.Cleanup.BatchSize < 0 {
		return errors.New("Cleanup BatchSize must be >= 0")
	}
	return nil
}
