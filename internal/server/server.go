// Package server implements the request server the topology controller
// installs its handlers on.
//
// Callbacks run on the event loop, never on the HTTP goroutine. The HTTP
// goroutine parks until the callback (or a later continuation) sends the
// single reply for its request, or until the client goes away.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

// Poster queues work onto the event loop
type Poster interface {
	Post(fn func()) bool
}

// Options configures the request server
type Options struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	// Middleware wraps the route table; the first entry is outermost
	Middleware []func(http.Handler) http.Handler
}

// DefaultOptions returns options listening on addr
func DefaultOptions(addr string) Options {
	return Options{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Server is an HTTP request server that dispatches onto an event loop
type Server struct {
	opts   Options
	loop   Poster
	mux    *http.ServeMux
	logger logr.Logger

	buildOnce sync.Once
	handler   http.Handler

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener

	inflight atomic.Int64
}

// New creates a request server. It fails if the listen address is invalid.
func New(loop Poster, opts Options, logger logr.Logger) (*Server, error) {
	if loop == nil {
		return nil, errors.New("event loop is required")
	}
	if opts.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if _, _, err := net.SplitHostPort(opts.Addr); err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", opts.Addr, err)
	}

	return &Server{
		opts:   opts,
		loop:   loop,
		mux:    http.NewServeMux(),
		logger: logger.WithName("server"),
	}, nil
}

// InstallCallback registers cb on the logical path. "activate" and
// "/activate" name the same route.
func (s *Server) InstallCallback(path string, cb Callback) {
	path = "/" + strings.TrimPrefix(path, "/")
	s.mux.Handle(path, s.dispatch(path, cb))
	s.logger.V(1).Info("Installed callback", "path", path)
}

// Handle mounts a plain HTTP handler on the same listener
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// ServeHTTP serves through the route table and middleware
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.buildOnce.Do(func() {
		var h http.Handler = s.mux
		for i := len(s.opts.Middleware) - 1; i >= 0; i-- {
			h = s.opts.Middleware[i](h)
		}
		s.handler = h
	})
	s.handler.ServeHTTP(w, r)
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are logged.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpSrv != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}

	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
		IdleTimeout:       s.opts.IdleTimeout,
	}

	go func(srv *http.Server) {
		s.logger.Info("Request server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(err, "Request server stopped unexpectedly")
		}
	}(s.httpSrv)

	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Stop gracefully shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Inflight returns the number of requests handed out and not yet released
func (s *Server) Inflight() int64 {
	return s.inflight.Load()
}

// SendReply answers req with code and a plain-text body
func (s *Server) SendReply(req Request, code int, body string) {
	s.sendReply(req, reply{code: code, body: body})
}

// SendErrorReply answers req with code and no body
func (s *Server) SendErrorReply(req Request, code int) {
	s.sendReply(req, reply{code: code})
}

func (s *Server) sendReply(req Request, rep reply) {
	r, ok := req.(*request)
	if !ok {
		s.logger.Error(nil, "Reply for a request this server did not issue", "type", fmt.Sprintf("%T", req))
		return
	}
	if !r.send(rep) {
		s.logger.Error(nil, "Duplicate reply dropped", "path", r.path, "code", rep.code)
	}
}

func (s *Server) dispatch(path string, cb Callback) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}

		req := newRequest(s, path, r)
		if !s.loop.Post(func() { cb(req) }) {
			// Loop is gone; the callback never took ownership.
			req.Release()
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		select {
		case rep := <-req.replies:
			writeReply(w, rep)
			// The exchange ends once the owner has let go of the request.
			select {
			case <-req.done:
			case <-r.Context().Done():
			}
		case <-r.Context().Done():
			s.logger.Info("Client went away before reply", "path", path,
				"remote", r.RemoteAddr)
		}
	}
}

func writeReply(w http.ResponseWriter, rep reply) {
	if rep.body == "" {
		w.WriteHeader(rep.code)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(rep.code)
	_, _ = w.Write([]byte(rep.body))
}
