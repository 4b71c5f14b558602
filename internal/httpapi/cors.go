package httpapi

import (
	"net/http"
	"strings"
)

// cors implements the extension-facing CORS policy (spec.md §6.3): requests
// with no Origin header (same-process tooling, curl) are allowed but get no
// Allow-Origin header; OPTIONS requests of any origin are answered here with
// 204; chrome-extension:// and moz-extension:// origins are always
// allowed; http://127.0.0.1 origins (any port) are allowed for local
// development. No third-party CORS library appears in any example repo's
// go.mod, so this is hand-rolled rather than adapted from one.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Mcp-Session-Id, X-Instance-Id")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string) bool {
	switch {
	case strings.HasPrefix(origin, "chrome-extension://"):
		return true
	case strings.HasPrefix(origin, "moz-extension://"):
		return true
	case strings.HasPrefix(origin, "http://127.0.0.1"):
		return true
	default:
		return false
	}
}
