package server

import (
	"net/http"
)

// OriginValidator decides whether an Origin header value may talk to
// the daemon.
type OriginValidator func(origin string) bool

// CORS wraps a handler with the cross-origin policy. Requests without
// an Origin header pass through untouched. Disallowed origins get 403
// before any handler runs. Preflights are answered here and echo the
// requested method and headers back.
func CORS(validator OriginValidator) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				handler.ServeHTTP(w, r)
				return
			}

			if !validator(origin) {
				respondStatusError(w, http.StatusForbidden, "Origin Not Allowed")
				return
			}

			if r.Method == http.MethodOptions {
				if method := r.Header.Get("Access-Control-Request-Method"); method != "" {
					w.Header().Set("Access-Control-Allow-Methods", method)
				}
				if headers := r.Header.Get("Access-Control-Request-Headers"); headers != "" {
					w.Header().Set("Access-Control-Allow-Headers", headers)
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.WriteHeader(http.StatusOK)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			handler.ServeHTTP(w, r)
		})
	}
}
