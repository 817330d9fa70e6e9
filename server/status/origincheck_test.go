package status

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOriginCheck(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := OriginCheck(map[string]string{
		"/status/":       "",
		"/status/log.gz": "http://127.0.0.1:21325",
	})(inner)

	testcases := []struct {
		path   string
		origin string
		code   int
	}{
		{"/status/", "", http.StatusOK},
		{"/status/", "https://evil.example.com", http.StatusForbidden},
		{"/status/log.gz", "http://127.0.0.1:21325", http.StatusOK},
		{"/status/log.gz", "", http.StatusForbidden},
		{"/status/log.gz", "https://evil.example.com", http.StatusForbidden},
	}
	for _, tc := range testcases {
		r := httptest.NewRequest("GET", tc.path, nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, tc.code, w.Code, "path %s origin %q", tc.path, tc.origin)
		if tc.code == http.StatusOK {
			require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
		}
	}
}
