package status

import (
	"net/http"
)

// originCheck requires every path to carry exactly the Origin header
// listed for it. The status page itself is same-origin only, so it
// maps to the empty string.
type originCheck struct {
	handler http.Handler
	allowed map[string]string
}

func (o *originCheck) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	path := r.URL.Path

	if o.allowed[path] != origin {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.Header().Set("X-Frame-Options", "DENY")
	o.handler.ServeHTTP(w, r)
}

func OriginCheck(allowed map[string]string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return &originCheck{
			allowed: allowed,
			handler: h,
		}
	}
}
