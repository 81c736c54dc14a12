// Package mw adapts the authentication chain and permission checks to
// echo middleware.
package mw

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/firsec/fir/internal/auth"
	"github.com/firsec/fir/internal/domain"
	"github.com/firsec/fir/internal/obs"
)

const identityKey = "identity"

// Authenticate runs the chain for every request on the group. A failure
// returns 401 with the failure reason; a chain where every authenticator
// abstains returns 401 as well, since API routes have no anonymous access.
func Authenticate(chain *auth.Chain) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			identity, err := chain.Authenticate(ctx, c.Request())
			if err != nil {
				name := "unknown"
				var fe *auth.FailureError
				if errors.As(err, &fe) && fe.Authenticator != "" {
					name = fe.Authenticator
				}
				obs.RecordAuthAttempt(name, "failure")
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			if identity == nil {
				obs.RecordAuthAttempt("none", "no_opinion")
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			obs.RecordAuthAttempt(identity.Authenticator, "success")

			c.SetRequest(c.Request().WithContext(auth.ContextWithIdentity(ctx, identity)))
			c.Set(identityKey, identity)
			return next(c)
		}
	}
}

// CurrentUser returns the authenticated user for the request.
func CurrentUser(c echo.Context) (*domain.User, bool) {
	identity, ok := c.Get(identityKey).(*auth.Identity)
	if !ok || identity == nil || identity.User == nil {
		return nil, false
	}
	return identity.User, true
}

// RequireIncidentHandler rejects identities outside the incident handler
// group with 403. Superusers always pass.
func RequireIncidentHandler() echo.MiddlewareFunc {
	return requireGroup(func(u *domain.User) bool { return u.CanHandleIncidents() },
		"incident handler permission required")
}

// RequireAdmin restricts a route to superusers.
func RequireAdmin() echo.MiddlewareFunc {
	return requireGroup(func(u *domain.User) bool { return u.IsSuperuser },
		"administrator permission required")
}

func requireGroup(allowed func(*domain.User) bool, reason string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := CurrentUser(c)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !allowed(user) {
				return echo.NewHTTPError(http.StatusForbidden, reason)
			}
			return next(c)
		}
	}
}
