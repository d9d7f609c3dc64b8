package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	codeUnauthorized   = "unauthorized"
	codeForbidden      = "forbidden"
	codeLocked         = "account_locked"
	codeRateLimited    = "rate_limited"
	codeUnavailable    = "unavailable"
	codeInvalidRequest = "invalid_request"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Infrastructure is matched first: a store outage is never reported as a
// credential failure.
var errorMappings = []errorMapping{
	{authcore.ErrInfrastructure, http.StatusServiceUnavailable, codeUnavailable},
	{authcore.ErrEngineNotReady, http.StatusServiceUnavailable, codeUnavailable},
	{authcore.ErrMfaDeliveryFailed, http.StatusServiceUnavailable, "mfa_delivery_failed"},
	{authcore.ErrAccountLocked, http.StatusLocked, codeLocked},
	{authcore.ErrLoginRateLimited, http.StatusTooManyRequests, codeRateLimited},
	{authcore.ErrMfaRateLimited, http.StatusTooManyRequests, codeRateLimited},
	{authcore.ErrInvalidCredentials, http.StatusUnauthorized, codeUnauthorized},
	{authcore.ErrTokenExpired, http.StatusUnauthorized, codeUnauthorized},
	{authcore.ErrUnknownToken, http.StatusUnauthorized, codeUnauthorized},
	{authcore.ErrTokenReused, http.StatusUnauthorized, codeUnauthorized},
	{authcore.ErrTokenInvalid, http.StatusUnauthorized, codeUnauthorized},
	{authcore.ErrMfaFailed, http.StatusUnauthorized, codeUnauthorized},
	{authcore.ErrMfaExpired, http.StatusUnauthorized, codeUnauthorized},
	{authcore.ErrUserNotFound, http.StatusUnauthorized, codeUnauthorized},
	{authcore.ErrMfaNotEnrolled, http.StatusBadRequest, "mfa_not_enrolled"},
	{authcore.ErrInvalidMFAPurpose, http.StatusBadRequest, codeInvalidRequest},
	{authcore.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{authcore.ErrSessionLimitExceeded, http.StatusConflict, "session_limit_exceeded"},
	{authcore.ErrPasswordPolicy, http.StatusUnprocessableEntity, "password_policy"},
	{authcore.ErrPasswordReuse, http.StatusUnprocessableEntity, "password_reused"},
}

func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) fail(c echo.Context, err error) error {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("auth request failed",
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	return c.JSON(status, echo.Map{"error": code})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": codeUnauthorized})
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": codeInvalidRequest})
}
