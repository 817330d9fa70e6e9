package server

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/trezor/bridged/config"
	"github.com/trezor/bridged/core"
	"github.com/trezor/bridged/executor"
)

const (
	listenIterations = 60
	listenDelay      = 500 * time.Millisecond
)

type indexInfo struct {
	Version    string  `json:"version"`
	Configured bool    `json:"configured"`
	ValidUntil *uint64 `json:"validUntil"`
}

// Index reports the daemon version and configuration state.
func (s *Server) Index(w http.ResponseWriter, r *http.Request) {
	info := indexInfo{
		Version:    s.kernel.Version(),
		Configured: s.kernel.HasConfig(),
	}
	if until, ok := s.kernel.ValidUntil(); ok {
		info.ValidUntil = &until
	}
	jsonResponse(w, info)
}

// Enumerate lists devices and their sessions.
func (s *Server) Enumerate(w http.ResponseWriter, r *http.Request) {
	entries, err := executor.Do(s.kernel.EnumerationExecutor(), func() ([]core.EnumerateEntry, error) {
		return s.kernel.Enumerate()
	})
	if err != nil {
		respondError(w, err)
		return
	}
	jsonResponse(w, entries)
}

// Listen long-polls until the device list changes, or about thirty
// seconds (60 polls, 500 ms apart) pass, or the client goes away. The baseline is a fresh enumeration taken at
// entry; a client that already holds an entry list can supply it in the
// body to catch changes that happened between its calls.
func (s *Server) Listen(w http.ResponseWriter, r *http.Request) {
	var last []core.EnumerateEntry
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &last); err != nil {
			respondError(w, err)
			return
		}
	}
	if last == nil {
		last, err = executor.Do(s.kernel.EnumerationExecutor(), func() ([]core.EnumerateEntry, error) {
			return s.kernel.Enumerate()
		})
		if err != nil {
			respondError(w, err)
			return
		}
	}

	for i := 0; i < listenIterations; i++ {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(listenDelay):
		}

		entries, err := executor.Do(s.kernel.EnumerationExecutor(), func() ([]core.EnumerateEntry, error) {
			return s.kernel.Enumerate()
		})
		if err != nil {
			respondError(w, err)
			return
		}
		if !reflect.DeepEqual(entries, last) {
			jsonResponse(w, entries)
			return
		}
	}
	jsonResponse(w, last)
}

// Configure verifies, checks and installs a configuration. The body is
// the signed blob in hex. The requesting origin must be allowed by the
// candidate itself before it is installed.
func (s *Server) Configure(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, err)
		return
	}

	blob, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		respondError(w, err)
		return
	}

	cfg, err := s.kernel.ParseConfig(blob)
	if err != nil {
		respondError(w, err)
		return
	}

	if cfg.Expired(time.Now()) {
		respondError(w, config.ErrExpired)
		return
	}

	if origin := r.Header.Get("Origin"); origin != "" && !cfg.AllowsURL(origin) {
		respondError(w, ErrOriginNotAllowed)
		return
	}

	if err := s.kernel.SetConfig(cfg); err != nil {
		respondError(w, err)
		return
	}
	jsonResponse(w, struct{}{})
}

type acquireResponse struct {
	Session string `json:"session"`
}

// Acquire opens the device at a path and binds a fresh session to it.
// The path must show up in the current enumeration.
func (s *Server) Acquire(w http.ResponseWriter, r *http.Request) {
	hexPath := mux.Vars(r)["path"]
	rawPath, err := hex.DecodeString(hexPath)
	if err != nil {
		respondError(w, err)
		return
	}
	path := string(rawPath)

	supported, err := executor.Do(s.kernel.EnumerationExecutor(), func() (bool, error) {
		return s.kernel.IsPathSupported(path)
	})
	if err != nil {
		respondError(w, err)
		return
	}
	if !supported {
		respondError(w, ErrUnsupportedPath)
		return
	}

	dk, e := s.kernel.PathResources(path)
	session, err := executor.Do(e, func() (string, error) {
		if err := dk.Open(); err != nil {
			return "", err
		}
		return s.kernel.AcquireSession(path), nil
	})
	if err != nil {
		respondError(w, err)
		return
	}
	jsonResponse(w, acquireResponse{Session: session})
}

// Release closes a session's device and removes the binding.
func (s *Server) Release(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]

	dk, e, err := s.kernel.SessionResources(session)
	if err != nil {
		respondError(w, err)
		return
	}

	_, err = executor.Do(e, func() (struct{}, error) {
		err := dk.Close()
		s.kernel.ReleaseSession(session)
		return struct{}{}, err
	})
	if err != nil {
		respondError(w, err)
		return
	}
	jsonResponse(w, struct{}{})
}

// Call decodes the typed JSON body, performs one message exchange on
// the session's device and encodes the reply. A client that goes away
// mid-exchange does not interrupt it.
func (s *Server) Call(w http.ResponseWriter, r *http.Request) {
	session := mux.Vars(r)["session"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, err)
		return
	}

	dk, e, err := s.kernel.SessionResources(session)
	if err != nil {
		respondError(w, err)
		return
	}

	reply, err := executor.Do(e, func() ([]byte, error) {
		in, err := s.kernel.JSONToWire(body)
		if err != nil {
			return nil, err
		}
		out, err := dk.Call(in)
		if err != nil {
			return nil, err
		}
		return s.kernel.WireToJSON(out)
	})
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(reply)
}

func jsonResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
