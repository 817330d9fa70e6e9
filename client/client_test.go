package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeDaemon serves canned bridge responses and records requests.
func fakeDaemon(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()

	var seen []string
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/":
			_, _ = io.WriteString(w, `{"version":"1.2.1","configured":true,"validUntil":null}`)
		case "/enumerate", "/listen":
			_, _ = io.WriteString(w, `[{"path":"64657631","vendor":4617,"product":21441,"serialNumber":"","session":null}]`)
		case "/configure":
			_, _ = io.WriteString(w, `{}`)
		case "/acquire/64657631":
			_, _ = io.WriteString(w, `{"session":"s-1"}`)
		case "/release/s-1":
			_, _ = io.WriteString(w, `{}`)
		case "/call/s-1":
			_, _ = io.WriteString(w, `{"type":"Success","message":{"message":"ok"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"Not Found"}`)
		}
	})

	s := httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s, &seen
}

func TestClientFlow(t *testing.T) {
	daemon, seen := fakeDaemon(t)

	c, err := New(URL(daemon.URL), Origin("https://wallet.example.com"))
	require.NoError(t, err)
	require.Equal(t, "1.2.1", c.Version)

	ctx := context.Background()

	require.NoError(t, c.Configure(ctx, []byte{1, 2, 3}))

	entries, err := c.Enumerate(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, hex.EncodeToString([]byte("dev1")), entries[0].Path)

	session, err := c.Acquire(ctx, entries[0].Path)
	require.NoError(t, err)
	require.Equal(t, "s-1", session)

	reply, err := c.Call(ctx, session, json.RawMessage(`{"type":"Ping","message":{}}`))
	require.NoError(t, err)
	require.Contains(t, string(reply), `"type":"Success"`)

	require.NoError(t, c.Release(ctx, session))

	require.Equal(t, []string{
		"GET /",
		"POST /configure",
		"GET /enumerate",
		"POST /acquire/64657631",
		"POST /call/s-1",
		"POST /release/s-1",
	}, *seen)
}

func TestClientListen(t *testing.T) {
	daemon, _ := fakeDaemon(t)

	c, err := New(URL(daemon.URL))
	require.NoError(t, err)

	entries, err := c.Listen(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestClientErrorEnvelope(t *testing.T) {
	daemon, _ := fakeDaemon(t)

	c, err := New(URL(daemon.URL))
	require.NoError(t, err)

	_, err = c.Acquire(context.Background(), "unknown")
	require.ErrorContains(t, err, "Not Found")
}
