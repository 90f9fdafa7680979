package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by stores when a topology does not exist
var ErrNotFound = errors.New("not found")

// ValidationKind identifies which precondition a control request failed
type ValidationKind string

const (
	ValidationMissingID          ValidationKind = "missing_id"
	ValidationOwnerUninitialized ValidationKind = "owner_uninitialized"
	ValidationIDMismatch         ValidationKind = "id_mismatch"
	ValidationWrongState         ValidationKind = "wrong_state"
)

// ValidationError is a synchronous rejection of a control request
type ValidationError struct {
	Kind   ValidationKind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// HTTPStatus returns the status code the request is answered with.
// An uninitialized owner is a server-side condition; everything else is
// the caller's fault.
func (e *ValidationError) HTTPStatus() int {
	if e.Kind == ValidationOwnerUninitialized {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// TransitionError is a failed outcome reported by the topology master
type TransitionError struct {
	Op     TransitionOp
	Status StatusCode
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("unable to %s topology: %s", e.Op, e.Status)
}

// HTTPStatus always maps to 500
func (e *TransitionError) HTTPStatus() int {
	return http.StatusInternalServerError
}
