package authcore

import "time"

// SecurityReport summarizes the engine's effective security posture. It
// carries no secrets and is safe to expose to operators.
type SecurityReport struct {
	SigningAlgorithm   string
	KeyID              string
	AccessTTL          time.Duration
	RefreshTTL         time.Duration
	Argon2             PasswordConfigReport
	LockoutEnabled     bool
	LockoutThreshold   int
	LockoutCooldown    time.Duration
	MaxSessionsPerUser int
	SessionLimitPolicy string
	LoginRateLimited   bool
	MFAIssueRateLimit  bool
	MFAMaxAttempts     int
	PasswordHistory    int
	AlertsEnabled      bool
	CleanupInterval    time.Duration
}

type PasswordConfigReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	c := e.config

	history := 0
	if c.PasswordHistory.Enabled {
		history = c.PasswordHistory.Depth
	}
	return SecurityReport{
		SigningAlgorithm: c.JWT.SigningMethod,
		KeyID:            c.JWT.KeyID,
		AccessTTL:        c.JWT.AccessTTL,
		RefreshTTL:       c.JWT.RefreshTTL,
		Argon2: PasswordConfigReport{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		},
		LockoutEnabled:     c.Lockout.Enabled,
		LockoutThreshold:   c.Lockout.Threshold,
		LockoutCooldown:    c.Lockout.Cooldown,
		MaxSessionsPerUser: c.Session.MaxPerUser,
		SessionLimitPolicy: string(c.Session.LimitPolicy),
		LoginRateLimited:   c.RateLimit.LoginPerIP > 0,
		MFAIssueRateLimit:  c.RateLimit.MFAIssuePerUser > 0,
		MFAMaxAttempts:     c.MFA.MaxAttempts,
		PasswordHistory:    history,
		AlertsEnabled:      c.Alerts.Enabled && e.alerts != nil,
		CleanupInterval:    c.Cleanup.Interval,
	}
}
