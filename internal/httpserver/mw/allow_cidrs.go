package mw

import (
	"net/http"

	"github.com/MrSnakeDoc/reviewqueue-agent/internal/logger"
)

// AllowOnlyCIDRS allows only callers inside the given IPs/CIDRs. An empty
// list does not filter (passthrough). trustProxy should be true only when the
// agent is reachable exclusively through a trusted reverse proxy.
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	set, invalid := parsePrefixes(allowed)
	if len(invalid) > 0 {
		log.Warn("AllowOnlyCIDRS: ignoring invalid entries", logger.Strings("entries", invalid))
	}
	if len(set) == 0 {
		log.Debug("AllowOnlyCIDRS: empty matcher, passthrough mode")
		return func(next http.Handler) http.Handler { return next }
	}

	log.Debugf("AllowOnlyCIDRS: initialized with %d rules, trustProxy=%v", len(set), trustProxy)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr, ok := clientIP(r, trustProxy)
			if !ok || !set.contains(addr) {
				log.Debugf("AllowOnlyCIDRS: %s REJECTED (RemoteAddr=%s)", addr, r.RemoteAddr)
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
