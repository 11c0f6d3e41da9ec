package mw

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/stackpilot/internal/logger"
	"github.com/MrSnakeDoc/stackpilot/internal/metrics"
	"github.com/MrSnakeDoc/stackpilot/internal/utils"
)

func forbidden(w http.ResponseWriter, reason string) {
	metrics.AccessDeniedTotal.WithLabelValues(reason).Inc()
	writeErrorJSON(w, http.StatusForbidden, "forbidden")
}

// AllowOnlyCIDRS restricts a route to the configured addresses and
// prefixes. An empty list leaves the route open.
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	m := utils.NewIPMatcher(allowed)
	if m.IsEmpty() {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustProxy)
			if !m.Allow(ip) {
				log.Debug("address not allowed",
					logger.String("ip", ip),
					logger.String("path", r.URL.Path))
				forbidden(w, "cidr")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// EnforceHost rejects requests whose Host header matches none of
// allowedHosts. Patterns may start with "*." to match any subdomain.
// An empty list leaves the route open.
func EnforceHost(allowedHosts []string, log logger.Logger) func(http.Handler) http.Handler {
	if len(allowedHosts) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, pattern := range allowedHosts {
				if matchHost(r.Host, pattern) {
					next.ServeHTTP(w, r)
					return
				}
			}
			log.Debug("host not allowed", logger.String("host", r.Host))
			forbidden(w, "host")
		})
	}
}

// matchHost compares case-insensitively and ignores any port on host.
// "*.example.com" matches "a.example.com" but not "example.com".
func matchHost(host, pattern string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	pattern = strings.ToLower(pattern)

	if suffix, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(suffix, ".") {
		return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
	}
	return host == pattern
}
