package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeadersConfig controls the response headers added to every request.
type SecurityHeadersConfig struct {
	// HSTS is only sent when the server sits behind TLS.
	HSTS bool
	// PrivatePrefixes lists path prefixes that return patient data: plans,
	// rendered PDFs and exam files. Their responses must never be cached.
	PrivatePrefixes []string
}

func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		HSTS:            true,
		PrivatePrefixes: []string{"/api/v1/", "/blobs/"},
	}
}

func SecurityHeaders(cfg SecurityHeadersConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if cfg.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			if isPrivatePath(c.Request().URL.Path, cfg.PrivatePrefixes) {
				h.Set("Cache-Control", "no-store, private")
				h.Set("Pragma", "no-cache")
			}
			return next(c)
		}
	}
}

func isPrivatePath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
