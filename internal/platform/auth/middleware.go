package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	CompanyIDKey contextKey = "company_id"
)

// DevCompanyHeader selects the company for requests served by
// DevAuthMiddleware without a bearer token.
const DevCompanyHeader = "X-Company-ID"

// Claims are the token claims the service relies on. The subject becomes the
// plan's created_by and company_id scopes every plan request.
type Claims struct {
	jwt.RegisteredClaims
	CompanyID string   `json:"company_id"`
	Roles     []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// SigningKey enables HS256 verification and takes precedence over JWKS.
	SigningKey []byte
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	// Resolve JWKS URL: if not explicitly set, try OIDC auto-discovery from issuer.
	resolvedJWKSURL := cfg.JWKSURL
	if resolvedJWKSURL == "" && cfg.Issuer != "" && len(cfg.SigningKey) == 0 {
		if uri, err := DiscoverJWKSURI(cfg.Issuer); err == nil {
			resolvedJWKSURL = uri
		}
	}

	var keyFunc jwt.Keyfunc
	if len(cfg.SigningKey) > 0 {
		keyFunc = func(*jwt.Token) (interface{}, error) { return cfg.SigningKey, nil }
	} else {
		keyFunc = jwksKeyFunc(resolvedJWKSURL)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, keyFunc, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			companyID := uuid.Nil
			if claims.CompanyID != "" {
				companyID, err = uuid.Parse(claims.CompanyID)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid company_id claim")
				}
			}

			setIdentity(c, claims.Subject, companyID, claims.Roles)
			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development. Requests
// without a bearer token get a superadmin identity scoped to the company in
// the X-Company-ID header. Requests with a token are passed to verify when it
// is non-nil.
func DevAuthMiddleware(verify echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := next
		if verify != nil {
			verified = verify(next)
		}
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "" {
				return verified(c)
			}
			companyID, err := uuid.Parse(c.Request().Header.Get(DevCompanyHeader))
			if err != nil {
				companyID = uuid.Nil
			}
			setIdentity(c, "dev-user", companyID, []string{RoleSuperAdmin})
			return next(c)
		}
	}
}

func setIdentity(c echo.Context, userID string, companyID uuid.UUID, roles []string) {
	c.Set(string(CompanyIDKey), companyID)
	ctx := c.Request().Context()
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	ctx = context.WithValue(ctx, CompanyIDKey, companyID)
	c.SetRequest(c.Request().WithContext(ctx))
}

// WithIdentity returns a context carrying the given identity. Used by
// background jobs and tests.
func WithIdentity(ctx context.Context, userID string, companyID uuid.UUID, roles ...string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRolesKey, roles)
	return context.WithValue(ctx, CompanyIDKey, companyID)
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// CompanyIDFromContext returns uuid.Nil when the identity has no company.
func CompanyIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(CompanyIDKey).(uuid.UUID)
	return id
}
