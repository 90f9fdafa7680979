// Package controller implements the topology control endpoints.
//
// The controller answers two operator requests, activate and deactivate.
// Each request is validated against a single snapshot of the topology held by
// the master; if it passes, the master is asked to perform the transition
// and the reply is deferred until the master reports the outcome through a
// one-shot continuation.
//
// Handlers and continuations all run on the request server's event loop, so
// the controller keeps no locks. Every request is answered exactly once and
// released exactly once, on whichever path finishes it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/go-logr/logr"

	"tmaster/internal/domain"
	"tmaster/internal/metrics"
	"tmaster/internal/server"
)

const (
	// TopologyIDKey is the request parameter naming the target topology
	TopologyIDKey = "topologyid"

	ActivatedMessage   = "Topology successfully activated"
	DeactivatedMessage = "Topology successfully deactivated"
)

// StateOwner is the authoritative holder of the topology. The controller
// reads its snapshot and asks it to perform transitions; it never mutates
// topology state itself.
type StateOwner interface {
	// Topology returns the current snapshot, or nil before initialization
	Topology() *domain.Topology
	// ActivateTopology moves a PAUSED topology to RUNNING and calls done
	// exactly once with the outcome
	ActivateTopology(done func(domain.StatusCode))
	// DeactivateTopology moves a RUNNING topology to PAUSED and calls done
	// exactly once with the outcome
	DeactivateTopology(done func(domain.StatusCode))
}

// RequestServer is the transport the controller installs its handlers on
type RequestServer interface {
	InstallCallback(path string, cb server.Callback)
	Handle(pattern string, h http.Handler)
	Start() error
	Stop(ctx context.Context) error
	SendReply(req server.Request, code int, body string)
	SendErrorReply(req server.Request, code int)
}

// Controller serves the activate and deactivate endpoints
type Controller struct {
	owner  StateOwner
	srv    RequestServer
	logger logr.Logger
}

// New builds a request server from opts and installs the controller's
// handlers on it. The owner must outlive the controller.
func New(owner StateOwner, loop server.Poster, opts server.Options, logger logr.Logger) (*Controller, error) {
	srv, err := server.New(loop, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("create request server: %w", err)
	}
	return NewWithServer(owner, srv, logger), nil
}

// NewWithServer installs the controller's handlers on an existing server
func NewWithServer(owner StateOwner, srv RequestServer, logger logr.Logger) *Controller {
	c := &Controller{
		owner:  owner,
		srv:    srv,
		logger: logger.WithName("controller"),
	}

	srv.InstallCallback(string(domain.OpActivate), c.HandleActivate)
	srv.InstallCallback(string(domain.OpDeactivate), c.HandleDeactivate)

	return c
}

// Start starts the request server's accept loop
func (c *Controller) Start() error {
	return c.srv.Start()
}

// Close shuts the request server down
func (c *Controller) Close(ctx context.Context) error {
	return c.srv.Stop(ctx)
}

// Mount exposes an additional plain handler on the controller's listener
func (c *Controller) Mount(pattern string, h http.Handler) {
	c.srv.Handle(pattern, h)
}

// HandleActivate handles an activate request. It takes ownership of req.
func (c *Controller) HandleActivate(req server.Request) {
	c.handle(domain.OpActivate, req, c.owner.ActivateTopology)
}

// HandleActivateCompletion answers req with the outcome of an activation
func (c *Controller) HandleActivateCompletion(req server.Request, status domain.StatusCode) {
	c.complete(domain.OpActivate, req, status)
}

// HandleDeactivate handles a deactivate request. It takes ownership of req.
func (c *Controller) HandleDeactivate(req server.Request) {
	c.handle(domain.OpDeactivate, req, c.owner.DeactivateTopology)
}

// HandleDeactivateCompletion answers req with the outcome of a deactivation
func (c *Controller) HandleDeactivateCompletion(req server.Request, status domain.StatusCode) {
	c.complete(domain.OpDeactivate, req, status)
}

func (c *Controller) handle(op domain.TransitionOp, req server.Request, dispatch func(func(domain.StatusCode))) {
	log := c.logger.WithValues("op", op, "remote", remoteAddr(req))
	log.Info("Got a topology control request")

	if err := c.validate(op, req); err != nil {
		var verr *domain.ValidationError
		code := http.StatusInternalServerError
		if errors.As(err, &verr) {
			code = verr.HTTPStatus()
		}
		log.Error(err, "Rejected topology control request", "code", code)
		c.srv.SendErrorReply(req, code)
		metrics.RecordControllerRequest(string(op), code)
		req.Release()
		return
	}

	dispatch(c.continuation(op, req))
}

// validate checks the request against one snapshot of the topology, in
// order, stopping at the first failure.
func (c *Controller) validate(op domain.TransitionOp, req server.Request) error {
	id := req.Value(TopologyIDKey)
	if id == "" {
		return &domain.ValidationError{
			Kind:   domain.ValidationMissingID,
			Detail: "topologyid not specified in the request",
		}
	}

	topo := c.owner.Topology()
	if topo == nil {
		return &domain.ValidationError{
			Kind:   domain.ValidationOwnerUninitialized,
			Detail: "topology master not yet initialized",
		}
	}

	if id != topo.ID {
		return &domain.ValidationError{
			Kind:   domain.ValidationIDMismatch,
			Detail: fmt.Sprintf("topology id %q does not match %q", id, topo.ID),
		}
	}

	if want := op.Source(); topo.State != want {
		return &domain.ValidationError{
			Kind:   domain.ValidationWrongState,
			Detail: fmt.Sprintf("topology is %s, %s requires %s", topo.State, op, want),
		}
	}

	return nil
}

// continuation returns the one-shot callback handed to the owner. Calls
// after the first are logged and dropped.
func (c *Controller) continuation(op domain.TransitionOp, req server.Request) func(domain.StatusCode) {
	var fired atomic.Bool
	return func(status domain.StatusCode) {
		if !fired.CompareAndSwap(false, true) {
			c.logger.Error(nil, "Transition completion delivered twice", "op", op, "status", status)
			return
		}
		c.complete(op, req, status)
	}
}

func (c *Controller) complete(op domain.TransitionOp, req server.Request, status domain.StatusCode) {
	defer req.Release()

	if !status.IsOK() {
		err := &domain.TransitionError{Op: op, Status: status}
		c.logger.Error(err, "Topology transition failed", "remote", remoteAddr(req))
		c.srv.SendErrorReply(req, err.HTTPStatus())
		metrics.RecordControllerRequest(string(op), err.HTTPStatus())
		return
	}

	msg := ActivatedMessage
	if op == domain.OpDeactivate {
		msg = DeactivatedMessage
	}
	c.logger.Info(msg, "remote", remoteAddr(req))
	c.srv.SendReply(req, http.StatusOK, msg)
	metrics.RecordControllerRequest(string(op), http.StatusOK)
}

func remoteAddr(req server.Request) string {
	return net.JoinHostPort(req.RemoteHost(), strconv.Itoa(req.RemotePort()))
}
