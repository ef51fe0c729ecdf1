package metadata

import (
	"net/http"
	"strings"

	"github.com/mssola/useragent"

	"bizportal/pkg/requestcontext"
)

// ClientMetadata records client IP, User-Agent and a parsed device summary on
// the request context. Apply it early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawUA := r.Header.Get("User-Agent")
		ctx := requestcontext.WithClientMetadata(r.Context(),
			ClientIPFromRequest(r),
			rawUA,
			DeviceSummary(rawUA),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceSummary renders a User-Agent as "<browser> on <os>". Bots are
// reported as "bot:<name>".
func DeviceSummary(rawUA string) string {
	if strings.TrimSpace(rawUA) == "" {
		return ""
	}
	ua := useragent.New(rawUA)
	browser, _ := ua.Browser()
	if ua.Bot() {
		return "bot:" + browser
	}
	if browser == "" {
		browser = "unknown"
	}
	os := ua.OS()
	if os == "" {
		os = "unknown"
	}
	if ua.Mobile() {
		return browser + " on " + os + " (mobile)"
	}
	return browser + " on " + os
}

// ClientIPFromRequest extracts the originating client IP behind proxies.
func ClientIPFromRequest(r *http.Request) string {
	// first hop of X-Forwarded-For is the original client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return addr[:idx]
		}
		return addr
	}

	return "unknown"
}
