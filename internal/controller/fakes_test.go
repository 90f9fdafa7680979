package controller

import (
	"context"
	"net/http"
	"net/url"

	"tmaster/internal/domain"
	"tmaster/internal/server"
)

// fakeOwner records transition requests and lets tests fire the
// continuation whenever they like.
type fakeOwner struct {
	topo            *domain.Topology
	activateCalls   int
	deactivateCalls int
	pending         []func(domain.StatusCode)
	// reply, if set, is delivered synchronously from the dispatch call
	reply *domain.StatusCode
}

func (o *fakeOwner) Topology() *domain.Topology {
	return o.topo
}

func (o *fakeOwner) ActivateTopology(done func(domain.StatusCode)) {
	o.activateCalls++
	o.dispatch(done)
}

func (o *fakeOwner) DeactivateTopology(done func(domain.StatusCode)) {
	o.deactivateCalls++
	o.dispatch(done)
}

func (o *fakeOwner) dispatch(done func(domain.StatusCode)) {
	if o.reply != nil {
		done(*o.reply)
		return
	}
	o.pending = append(o.pending, done)
}

func (o *fakeOwner) transitionCalls() int {
	return o.activateCalls + o.deactivateCalls
}

type sentReply struct {
	code int
	body string
}

// fakeServer captures installed callbacks and every reply sent.
type fakeServer struct {
	callbacks map[string]server.Callback
	handlers  map[string]http.Handler
	replies   map[*fakeRequest][]sentReply
	startErr  error
	started   bool
	stopped   bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		callbacks: make(map[string]server.Callback),
		handlers:  make(map[string]http.Handler),
		replies:   make(map[*fakeRequest][]sentReply),
	}
}

func (s *fakeServer) InstallCallback(path string, cb server.Callback) {
	s.callbacks[path] = cb
}

func (s *fakeServer) Handle(pattern string, h http.Handler) {
	s.handlers[pattern] = h
}

func (s *fakeServer) Start() error {
	s.started = true
	return s.startErr
}

func (s *fakeServer) Stop(ctx context.Context) error {
	s.stopped = true
	return nil
}

func (s *fakeServer) SendReply(req server.Request, code int, body string) {
	r := req.(*fakeRequest)
	r.assertLive()
	s.replies[r] = append(s.replies[r], sentReply{code: code, body: body})
}

func (s *fakeServer) SendErrorReply(req server.Request, code int) {
	s.SendReply(req, code, "")
}

type fakeRequest struct {
	values   url.Values
	releases int
	// violations counts replies sent after release
	violations int
}

func newFakeRequest(topologyID string) *fakeRequest {
	v := url.Values{}
	if topologyID != "" {
		v.Set(TopologyIDKey, topologyID)
	}
	return &fakeRequest{values: v}
}

func (r *fakeRequest) Value(key string) string { return r.values.Get(key) }
func (r *fakeRequest) RemoteHost() string      { return "10.1.2.3" }
func (r *fakeRequest) RemotePort() int         { return 40001 }
func (r *fakeRequest) Release()                { r.releases++ }

func (r *fakeRequest) assertLive() {
	if r.releases > 0 {
		r.violations++
	}
}

func snapshot(id string, state domain.TopologyState) *domain.Topology {
	return &domain.Topology{ID: id, Name: "word-count", State: state}
}

func status(c domain.StatusCode) *domain.StatusCode {
	return &c
}
