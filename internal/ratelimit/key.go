package ratelimit

import (
	"net/http"
	"strings"
)

// OriginFunc extracts the rate-limited origin identifier from an HTTP
// request.
type OriginFunc func(r *http.Request) string

// IPOrigin uses the client IP as the origin identifier.
func IPOrigin(r *http.Request) string {
	return ClientIP(r)
}

// HeaderOrigin uses a specific header value as the origin identifier,
// falling back to the client IP when the header is absent. Useful for API
// key based quotas.
func HeaderOrigin(header string) OriginFunc {
	return func(r *http.Request) string {
		if value := r.Header.Get(header); value != "" {
			return value
		}
		return ClientIP(r)
	}
}

// ClientIP extracts the client IP from the request, honoring the usual
// proxy headers before falling back to the connection address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}

	// Remove brackets from IPv6 addresses
	ip = strings.TrimPrefix(ip, "[")
	ip = strings.TrimSuffix(ip, "]")

	return ip
}
