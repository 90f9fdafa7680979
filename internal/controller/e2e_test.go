package controller

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tmaster/internal/domain"
	"tmaster/internal/eventloop"
	"tmaster/internal/server"
)

// delayedOwner completes transitions from another goroutine after a delay,
// posting the continuation back onto the loop.
type delayedOwner struct {
	mu      sync.Mutex
	topo    *domain.Topology
	loop    *eventloop.Loop
	delay   time.Duration
	outcome domain.StatusCode
	calls   int
}

func (o *delayedOwner) Topology() *domain.Topology {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.topo
}

func (o *delayedOwner) ActivateTopology(done func(domain.StatusCode)) {
	o.transition(domain.TopologyStateRunning, done)
}

func (o *delayedOwner) DeactivateTopology(done func(domain.StatusCode)) {
	o.transition(domain.TopologyStatePaused, done)
}

func (o *delayedOwner) transition(to domain.TopologyState, done func(domain.StatusCode)) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()

	go func() {
		time.Sleep(o.delay)
		o.loop.Post(func() {
			if o.outcome.IsOK() {
				o.mu.Lock()
				o.topo = o.topo.WithState(to, time.Now())
				o.mu.Unlock()
			}
			done(o.outcome)
		})
	}()
}

func (o *delayedOwner) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func newLiveController(t *testing.T, owner *delayedOwner) (*Controller, *server.Server) {
	t.Helper()
	loop := eventloop.New(logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	owner.loop = loop

	c, err := New(owner, loop, server.DefaultOptions("127.0.0.1:0"), logr.Discard())
	require.NoError(t, err)
	return c, c.srv.(*server.Server)
}

func serve(srv *server.Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
	return rec
}

func TestActivateWithDelayedCompletion(t *testing.T) {
	owner := &delayedOwner{
		topo:    snapshot("topo-1", domain.TopologyStatePaused),
		delay:   40 * time.Millisecond,
		outcome: domain.StatusOK,
	}
	_, srv := newLiveController(t, owner)

	rec := serve(srv, "/activate?topologyid=topo-1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "successfully activated")
	assert.Equal(t, 1, owner.callCount())
	assert.Equal(t, int64(0), srv.Inflight())
	assert.Equal(t, domain.TopologyStateRunning, owner.Topology().State)

	// The topology is now RUNNING, so a second activate is rejected.
	rec = serve(srv, "/activate?topologyid=topo-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, owner.callCount())

	rec = serve(srv, "/deactivate?topologyid=topo-1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, DeactivatedMessage, rec.Body.String())
	assert.Equal(t, int64(0), srv.Inflight())
}

func TestDelayedFailure(t *testing.T) {
	owner := &delayedOwner{
		topo:    snapshot("topo-1", domain.TopologyStateRunning),
		delay:   20 * time.Millisecond,
		outcome: domain.StatusStateWriteError,
	}
	_, srv := newLiveController(t, owner)

	rec := serve(srv, "/deactivate?topologyid=topo-1")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, domain.TopologyStateRunning, owner.Topology().State)
	assert.Equal(t, int64(0), srv.Inflight())
}

func TestDeactivateUninitializedOverHTTP(t *testing.T) {
	owner := &delayedOwner{}
	c, srv := newLiveController(t, owner)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	resp, err := http.Post("http://"+srv.Addr()+"/deactivate?topologyid=topo-1", "text/plain", nil)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Zero(t, owner.callCount())
	assert.Equal(t, int64(0), srv.Inflight())
}

func TestConcurrentRequestsEachGetOneReply(t *testing.T) {
	owner := &delayedOwner{
		topo:    snapshot("topo-1", domain.TopologyStatePaused),
		delay:   10 * time.Millisecond,
		outcome: domain.StatusNotOK,
	}
	_, srv := newLiveController(t, owner)

	targets := []string{
		"/activate?topologyid=topo-1",
		"/activate",
		"/activate?topologyid=nope",
		"/deactivate?topologyid=topo-1",
	}

	var wg sync.WaitGroup
	codes := make([]int, 20)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = serve(srv, targets[i%len(targets)]).Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		switch i % len(targets) {
		case 0:
			assert.Equal(t, http.StatusInternalServerError, code)
		default:
			assert.Equal(t, http.StatusBadRequest, code)
		}
	}
	assert.Equal(t, 5, owner.callCount())
	assert.Equal(t, int64(0), srv.Inflight())
}
