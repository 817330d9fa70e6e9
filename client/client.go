// Package client is a Go client for the bridge daemon. It speaks the
// same JSON surface the browser does, so tools and tests can drive
// devices without embedding the daemon.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/trezor/bridged/core"
)

// See https://dave.cheney.net/2014/10/17/functional-options-for-friendly-apis
// for notes on the initializer design

type Client struct {
	url        string
	origin     string
	httpClient *http.Client

	Version string
}

var defaultClient = Client{
	url:        "http://127.0.0.1:21325",
	httpClient: http.DefaultClient,
}

type InitOption func(*Client)

func URL(s string) InitOption {
	return func(c *Client) {
		c.url = s
	}
}

// Origin sets the Origin header sent with every request. The daemon's
// installed configuration must allow it.
func Origin(s string) InitOption {
	return func(c *Client) {
		c.origin = s
	}
}

func HTTPClient(h *http.Client) InitOption {
	return func(c *Client) {
		c.httpClient = h
	}
}

// Info is the daemon's self description.
type Info struct {
	Version    string  `json:"version"`
	Configured bool    `json:"configured"`
	ValidUntil *uint64 `json:"validUntil"`
}

// New probes the daemon and returns a client bound to it.
func New(options ...InitOption) (*Client, error) {
	c := defaultClient // copy struct
	for _, option := range options {
		option(&c)
	}

	info, err := c.Index(context.Background())
	if err != nil {
		return nil, err
	}
	c.Version = info.Version
	return &c, nil
}

// Index fetches the daemon's version and configuration state.
func (c *Client) Index(ctx context.Context) (*Info, error) {
	var info Info
	if err := c.do(ctx, "GET", "/", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Configure installs a signed configuration blob.
func (c *Client) Configure(ctx context.Context, blob []byte) error {
	body := strings.NewReader(hex.EncodeToString(blob))
	return c.do(ctx, "POST", "/configure", body, nil)
}

// Enumerate lists connected devices and their sessions.
func (c *Client) Enumerate(ctx context.Context) ([]core.EnumerateEntry, error) {
	var entries []core.EnumerateEntry
	if err := c.do(ctx, "GET", "/enumerate", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Listen blocks until the device list differs from previous. A nil
// previous leaves the baseline to the daemon, which snapshots at entry.
// Cancel the context to stop waiting.
func (c *Client) Listen(ctx context.Context, previous []core.EnumerateEntry) ([]core.EnumerateEntry, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(previous); err != nil {
		return nil, err
	}

	var entries []core.EnumerateEntry
	if err := c.do(ctx, "GET", "/listen", &buf, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Acquire opens the device at an enumerated path and returns the
// session bound to it.
func (c *Client) Acquire(ctx context.Context, path string) (string, error) {
	var response struct {
		Session string `json:"session"`
	}
	err := c.do(ctx, "POST", "/acquire/"+path, nil, &response)
	if err != nil {
		return "", err
	}
	return response.Session, nil
}

// Release closes a session's device.
func (c *Client) Release(ctx context.Context, session string) error {
	return c.do(ctx, "POST", "/release/"+session, nil, nil)
}

// Call performs one message exchange. Request and reply use the typed
// JSON envelope.
func (c *Client) Call(ctx context.Context, session string, message json.RawMessage) (json.RawMessage, error) {
	var reply json.RawMessage
	err := c.do(ctx, "POST", "/call/"+session, bytes.NewReader(message), &reply)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return err
	}
	if c.origin != "" {
		req.Header.Set("Origin", c.origin)
	}

	r, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer r.Body.Close()

	if r.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(r.Body).Decode(&failure); err == nil && failure.Error != "" {
			return fmt.Errorf("bridge: %s", failure.Error)
		}
		return fmt.Errorf("bridge: status code %d", r.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(out)
}
