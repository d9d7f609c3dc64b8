package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/refresh"
	"github.com/MrEthical07/authcore/session"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/MrEthical07/authcore"

// Builder assembles an Engine. A Builder can build exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	auditLog     AuditLog
	alertSink    AlertSink
	otpSender    OTPSender
	logger       *zap.Logger
	tracer       trace.Tracer
	clock        func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the store for every piece of engine state. Both
// *redis.Client and *redis.ClusterClient are accepted.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditLog sets the synchronous security event store. Required.
func (b *Builder) WithAuditLog(log AuditLog) *Builder {
	b.auditLog = log
	return b
}

// WithAlertSink sets where alerting events are published after they are
// durable. Alerts are dropped when no sink is set.
func (b *Builder) WithAlertSink(sink AlertSink) *Builder {
	b.alertSink = sink
	return b
}

// WithOTPSender sets the delivery channel for email one-time codes.
func (b *Builder) WithOTPSender(sender OTPSender) *Builder {
	b.otpSender = sender
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	if tp != nil {
		b.tracer = tp.Tracer(tracerName)
	}
	return b
}

// WithClock overrides time.Now for every expiry decision the engine makes.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if b.auditLog == nil {
		return nil, errors.New("audit log required")
	}

	e := &Engine{
		config:    cfg,
		redis:     b.redis,
		users:     b.userProvider,
		auditLog:  b.auditLog,
		otpSender: b.otpSender,
		logger:    b.logger,
		tracer:    b.tracer,
		clock:     b.clock,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.clock == nil {
		e.clock = time.Now
	}

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	e.passwordHash = ph

	// Unknown emails are verified against this hash so they cost the same
	// as a wrong password.
	seed, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	dummy, err := ph.Hash(internal.EncodeRefreshToken(seed))
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		MFATTL:        cfg.JWT.MFATokenTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cloneConfig(cfg).JWT.VerifyKeys,
		Now:           e.clock,
	})
	if err != nil {
		return nil, err
	}
	e.jwtManager = jm

	e.metrics = NewMetrics(cfg.Metrics)
	e.totp = newTOTPManager(cfg.MFA)
	e.refreshStore = refresh.NewStore(b.redis)
	e.sessionStore = session.NewStore(b.redis, cfg.JWT.RefreshTTL, cfg.Session.Retention)
	e.lockout = limiters.NewLockoutLimiter(b.redis, limiters.LockoutConfig{
		Enabled:   cfg.Lockout.Enabled,
		Threshold: cfg.Lockout.Threshold,
		Window:    cfg.Lockout.Window,
		Cooldown:  cfg.Lockout.Cooldown,
	})
	e.rateLimiter = rate.New(b.redis, rate.Config{
		LoginIP:  rate.Rule{Limit: cfg.RateLimit.LoginPerIP, Window: cfg.RateLimit.LoginWindow},
		MFAIssue: rate.Rule{Limit: cfg.RateLimit.MFAIssuePerUser, Window: cfg.RateLimit.MFAIssueWindow},
	})
	e.challenges = stores.NewMFAChallengeStore(b.redis)
	e.totpReplay = stores.NewTOTPReplayStore(b.redis)
	e.history = stores.NewPasswordHistoryStore(b.redis)

	if b.alertSink != nil {
		e.alerts = internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:        cfg.Alerts.Enabled,
			BufferSize:     cfg.Alerts.BufferSize,
			DropIfFull:     cfg.Alerts.DropIfFull,
			DeliverTimeout: cfg.Alerts.DeliverTimeout,
		}, b.alertSink, e.onAlertError)
	}

	e.flows = e.buildFlowDeps(dummy)

	b.built = true
	return e, nil
}

func (e *Engine) buildFlowDeps(dummyHash string) flows.Deps {
	return flows.Deps{
		Credentials: flows.CredentialDeps{
			Now: e.now,
			AllowLogin: func(ctx context.Context, ip string) (bool, error) {
				err := e.rateLimiter.AllowLogin(ctx, ip)
				if errors.Is(err, rate.ErrRateLimited) {
					return false, nil
				}
				return err == nil, err
			},
			LockedUntil:    e.lockout.LockedUntil,
			RecordFailure:  e.lockout.RecordFailure,
			ResetFailures:  e.lockout.Reset,
			VerifyPassword: e.passwordHash.Verify,
			NeedsUpgrade: func(hash string) (bool, error) {
				if !e.config.Password.UpgradeOnLogin {
					return false, nil
				}
				return e.passwordHash.NeedsUpgrade(hash)
			},
			HashPassword: e.passwordHash.Hash,
			DummyHash:    dummyHash,
			Warn:         e.warn,
		},
		Rotate: flows.RotateDeps{
			Now:                e.now,
			RefreshTTL:         e.config.JWT.RefreshTTL,
			DecodeRefreshToken: internal.DecodeRefreshToken,
			NewRefreshSecret:   internal.NewRefreshSecret,
			HashRefreshSecret:  internal.HashRefreshSecret,
			EncodeRefreshToken: internal.EncodeRefreshToken,
			Store:              e.refreshStore,
		},
		MFA: flows.MFADeps{
			Now:         e.now,
			MaxAttempts: e.config.MFA.MaxAttempts,
			Challenges:  e.challenges,
			HashOTP:     internal.HashOTP,
			TOTPSecret: func(ctx context.Context, userID string) ([]byte, bool, error) {
				user, err := e.users.GetUserByID(ctx, userID)
				if err != nil {
					if errors.Is(err, ErrUserNotFound) {
						return nil, false, nil
					}
					return nil, false, err
				}
				return user.TOTPSecret, user.MFAMethod == MFATOTP && len(user.TOTPSecret) > 0, nil
			},
			VerifyTOTP: e.totp.VerifyCode,
			AdvanceCounter: func(ctx context.Context, userID string, counter int64) (bool, error) {
				return e.totpReplay.Advance(ctx, userID, counter, e.totp.counterTTL())
			},
		},
	}
}
