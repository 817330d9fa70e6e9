// Package server is the HTTP dispatcher: the route table, CORS
// policy, body collection and the mapping of kernel errors to status
// codes.
package server

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/trezor/bridged/core"
	"github.com/trezor/bridged/memorywriter"
	"github.com/trezor/bridged/server/status"
)

type Options struct {
	Kernel    *core.Kernel
	Address   string
	Port      int
	CertPEM   []byte // empty pair means plain HTTP, for development
	KeyPEM    []byte
	Accesslog io.Writer
	Logger    *memorywriter.MemoryWriter
	Version   string
}

type Server struct {
	https  *http.Server
	kernel *core.Kernel
	logger *memorywriter.MemoryWriter
	useTLS bool
}

func New(opts Options) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", opts.Address, opts.Port)

	https := &http.Server{
		Addr: addr,
	}

	useTLS := len(opts.CertPEM) > 0 || len(opts.KeyPEM) > 0
	if useTLS {
		cert, err := tls.X509KeyPair(opts.CertPEM, opts.KeyPEM)
		if err != nil {
			return nil, err
		}
		https.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	s := &Server{
		https:  https,
		kernel: opts.Kernel,
		logger: opts.Logger,
		useTLS: useTLS,
	}

	r := mux.NewRouter()

	r.Methods("GET").Path("/").HandlerFunc(s.Index)
	r.Methods("GET").Path("/listen").HandlerFunc(s.Listen)
	r.Methods("GET").Path("/enumerate").HandlerFunc(s.Enumerate)
	r.Methods("POST").Path("/configure").HandlerFunc(s.Configure)
	r.Methods("POST").Path("/acquire/{path}").HandlerFunc(s.Acquire)
	r.Methods("POST").Path("/release/{session}").HandlerFunc(s.Release)
	r.Methods("POST").Path("/call/{session}").HandlerFunc(s.Call)

	scheme := "http"
	if useTLS {
		scheme = "https"
	}
	sr := r.PathPrefix("/status").Subrouter()
	status.Serve(sr, opts.Kernel, opts.Version, opts.Logger, scheme+"://"+addr)

	r.NotFoundHandler = http.HandlerFunc(notFound)

	var h http.Handler = r
	// Buffer the whole body before any handler runs.
	h = collectBody(h)
	// Restrict cross-origin access.
	h = CORS(opts.Kernel.IsAllowed)(h)
	// Log after the request is done, in the Apache format.
	h = handlers.LoggingHandler(opts.Accesslog, h)
	// Log when the request is received.
	h = s.logRequest(h)

	https.Handler = h

	return s, nil
}

func (s *Server) Run() error {
	if s.useTLS {
		return s.https.ListenAndServeTLS("", "")
	}
	return s.https.ListenAndServe()
}

func (s *Server) Close() error {
	return s.https.Close()
}

func (s *Server) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Println(fmt.Sprintf("http - %s %s", r.Method, r.URL))
		handler.ServeHTTP(w, r)
	})
}

func collectBody(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			respondError(w, err)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		handler.ServeHTTP(w, r)
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	respondStatusError(w, http.StatusNotFound, "Not Found")
}
