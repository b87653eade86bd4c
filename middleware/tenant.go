// Package middleware provides the organization-scoping echo middleware every
// HTTP route in the composition root runs behind. Actual authentication
// (verifying who the caller is) is out of scope: a Principal
// is assumed already resolved upstream (a gateway or sidecar) and carried on
// the request as headers. This middleware's only job is reading that
// Principal onto the echo context so handlers never parse headers directly,
// adapted from auth/user.go's User shape down to the fields the ingestion
// API actually needs.
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const principalContextKey = "principal"

// Principal identifies the caller an authenticated request was made as.
type Principal struct {
	UserID         string
	OrganizationID string
	Roles          []string
}

// Tenant reads X-Organization-Id and X-User-Id from the request, rejecting
// requests missing an organization id with 401 (a TenantViolation surfaces
// as 403 for cross-org access further downstream; a wholly missing
// principal is an authentication gap, not a tenant violation, hence 401
// here). Handlers pull the resolved Principal back out with PrincipalFrom.
func Tenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			org := c.Request().Header.Get("X-Organization-Id")
			if org == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing X-Organization-Id")
			}
			p := &Principal{
				UserID:         c.Request().Header.Get("X-User-Id"),
				OrganizationID: org,
			}
			c.Set(principalContextKey, p)
			return next(c)
		}
	}
}

// PrincipalFrom returns the Principal the Tenant middleware attached to c.
// Callers only reach handlers after Tenant runs, so this is always present.
func PrincipalFrom(c echo.Context) *Principal {
	p, _ := c.Get(principalContextKey).(*Principal)
	return p
}
