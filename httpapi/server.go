package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Service is the engine surface the handlers use. *authcore.Engine
// implements it.
type Service interface {
	Login(ctx context.Context, email, password string) (*authcore.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*authcore.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	IssueChallenge(ctx context.Context, userID, purpose string) (*authcore.Challenge, error)
	ResendChallenge(ctx context.Context, mfaToken string) (*authcore.Challenge, error)
	VerifyChallenge(ctx context.Context, challengeID, code string) (*authcore.MFAResult, error)
	ValidateAccess(token string) (*authcore.Identity, error)
	ListSessions(ctx context.Context, userID string) ([]authcore.SessionInfo, error)
	RevokeOwnSession(ctx context.Context, userID, sessionID string) error
	RevokeSession(ctx context.Context, sessionID, note string) error
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword, keepSessionID string) error
	Ping(ctx context.Context) (time.Duration, error)
	SecurityReport() authcore.SecurityReport
}

var _ Service = (*authcore.Engine)(nil)

// AdminRole is the role required by the /admin routes.
const AdminRole = "admin"

const defaultRequestTimeout = 5 * time.Second

// Options tunes the handlers. The zero value is usable.
type Options struct {
	// RequestTimeout bounds every engine call. Defaults to 5s.
	RequestTimeout time.Duration
	// Metrics is mounted on GET /metrics when set.
	Metrics http.Handler
	Logger  *zap.Logger
	// TrustProxyHeaders takes the client address from X-Forwarded-For.
	// Leave it off unless a proxy overwrites that header, or clients can
	// dodge the per-IP login throttle.
	TrustProxyHeaders bool
}

// Handler serves the auth endpoints.
type Handler struct {
	svc     Service
	timeout time.Duration
	metrics http.Handler
	log     *zap.Logger
}

func NewHandler(svc Service, opts Options) *Handler {
	h := &Handler{
		svc:     svc,
		timeout: opts.RequestTimeout,
		metrics: opts.Metrics,
		log:     opts.Logger,
	}
	if h.timeout <= 0 {
		h.timeout = defaultRequestTimeout
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	return h
}

// Register mounts every route on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}

	e.POST("/login", h.Login)
	e.POST("/refresh", h.Refresh)
	e.POST("/logout", h.Logout)
	e.POST("/mfa/challenge", h.MFAChallenge)
	e.POST("/mfa/verify", h.MFAVerify)

	authed := e.Group("", h.requireAccess)
	authed.GET("/sessions", h.ListSessions)
	authed.DELETE("/sessions/:id", h.RevokeSession)
	authed.POST("/password/change", h.ChangePassword)

	admin := e.Group("/admin", h.requireAccess, requireRole(AdminRole))
	admin.POST("/sessions/:id/revoke", h.AdminRevokeSession)
}

// NewServer returns an echo instance with the routes mounted and echo's
// default banner and error pages turned off.
func NewServer(svc Service, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler
	if opts.TrustProxyHeaders {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}
	NewHandler(svc, opts).Register(e)
	return e
}

// requestContext bounds the engine call and carries the client address and
// user agent into audit events and session records.
func (h *Handler) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	req := c.Request()
	ctx := authcore.WithClientIP(req.Context(), c.RealIP())
	ctx = authcore.WithUserAgent(ctx, req.UserAgent())
	return context.WithTimeout(ctx, h.timeout)
}

func jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	body := "internal"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		switch code {
		case http.StatusNotFound:
			body = "not_found"
		case http.StatusMethodNotAllowed:
			body = "method_not_allowed"
		case http.StatusUnauthorized:
			body = codeUnauthorized
		default:
			body = http.StatusText(code)
		}
	}
	_ = c.JSON(code, echo.Map{"error": body})
}
