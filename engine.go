package authcore

import (
	"context"
	"errors"
	"time"

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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine is the authentication core. It is safe for concurrent use; every
// cross-request invariant is enforced by Redis scripts.
type Engine struct {
	config Config
	redis  redis.UniversalClient
	logger *zap.Logger
	tracer trace.Tracer
	clock  func() time.Time

	users     UserProvider
	auditLog  AuditLog
	alerts    *internalaudit.Dispatcher
	otpSender OTPSender
	metrics   *Metrics

	passwordHash *password.Argon2
	totp         *totpManager
	jwtManager   *jwt.Manager

	refreshStore *refresh.Store
	sessionStore *session.Store
	lockout      *limiters.LockoutLimiter
	rateLimiter  *rate.Limiter
	challenges   *stores.MFAChallengeStore
	totpReplay   *stores.TOTPReplayStore
	history      *stores.PasswordHistoryStore

	flows flows.Deps
}

// Close flushes pending alerts.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.alerts != nil {
		e.alerts.Close()
	}
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Ping checks the Redis round trip.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}
	d, err := e.sessionStore.Ping(ctx)
	if err != nil {
		return 0, infra(err)
	}
	return d, nil
}

// ValidateAccess verifies an access token's signature, type and expiry. It
// does not consult Redis.
func (e *Engine) ValidateAccess(token string) (*Identity, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	id := claims.Identity()
	out := &Identity{
		UserID:    id.UserID,
		Email:     id.Email,
		Roles:     id.Roles,
		OrgID:     id.OrgID,
		SessionID: id.SessionID,
		FamilyID:  id.FamilyID,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

func (e *Engine) now() time.Time {
	return e.clock()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) warn(msg string, err error) {
	e.logger.Warn(msg, zap.Error(err))
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// infra marks err as an infrastructure failure while keeping the store
// sentinel matchable.
func infra(err error) error {
	if err == nil || errors.Is(err, ErrInfrastructure) {
		return err
	}
	return errors.Join(ErrInfrastructure, err)
}

// detached keeps request values but survives cancellation, for
// compensating writes that must not be cut short.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
