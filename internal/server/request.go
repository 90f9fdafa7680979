package server

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"tmaster/internal/metrics"
)

// Request is an inbound control request handed to a Callback.
//
// The callee owns the request: it must answer it exactly once through
// SendReply or SendErrorReply and call Release exactly once afterwards.
type Request interface {
	// Value returns the query or form value for key, or "" if absent
	Value(key string) string
	RemoteHost() string
	RemotePort() int
	Release()
}

// Callback handles a request on the event loop
type Callback func(Request)

type reply struct {
	code int
	body string
}

// request is the Request implementation backed by an in-flight HTTP call.
// The HTTP goroutine waits on replies; the event loop sends into it once.
type request struct {
	path     string
	values   url.Values
	host     string
	port     int
	replies  chan reply
	done     chan struct{}
	replied  atomic.Bool
	released atomic.Bool
	srv      *Server
}

func newRequest(srv *Server, path string, r *http.Request) *request {
	host, portStr, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	port, _ := strconv.Atoi(portStr)

	srv.inflight.Add(1)
	metrics.IncInflight()

	return &request{
		path:    path,
		values:  r.Form,
		host:    host,
		port:    port,
		replies: make(chan reply, 1),
		done:    make(chan struct{}),
		srv:     srv,
	}
}

func (r *request) Value(key string) string {
	return r.values.Get(key)
}

func (r *request) RemoteHost() string {
	return r.host
}

func (r *request) RemotePort() int {
	return r.port
}

// Release returns the request to the server. Only the first call counts.
func (r *request) Release() {
	if !r.released.CompareAndSwap(false, true) {
		r.srv.logger.Error(nil, "Request released twice", "path", r.path,
			"remote", net.JoinHostPort(r.host, strconv.Itoa(r.port)))
		return
	}
	r.srv.inflight.Add(-1)
	metrics.DecInflight()
	close(r.done)
}

// send delivers the reply to the waiting HTTP goroutine. It reports false
// if a reply was already sent.
func (r *request) send(rep reply) bool {
	if !r.replied.CompareAndSwap(false, true) {
		return false
	}
	r.replies <- rep
	return true
}
