package httpapi

import (
	"net/http"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/labstack/echo/v4"
)

const identityKey = "authcore.identity"

// requireAccess verifies the bearer access token and stores the identity on
// the echo context and the request context.
func (h *Handler) requireAccess(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, ok := h.bearerIdentity(c)
		if !ok {
			return unauthorized(c)
		}
		c.Set(identityKey, id)
		req := c.Request()
		c.SetRequest(req.WithContext(middleware.WithIdentity(req.Context(), id)))
		return next(c)
	}
}

func (h *Handler) bearerIdentity(c echo.Context) (*authcore.Identity, bool) {
	token, ok := middleware.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		return nil, false
	}
	id, err := h.svc.ValidateAccess(token)
	if err != nil || id == nil {
		return nil, false
	}
	return id, true
}

func requireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !middleware.HasRole(identity(c), role) {
				return c.JSON(http.StatusForbidden, echo.Map{"error": codeForbidden})
			}
			return next(c)
		}
	}
}

func identity(c echo.Context) *authcore.Identity {
	id, _ := c.Get(identityKey).(*authcore.Identity)
	return id
}
