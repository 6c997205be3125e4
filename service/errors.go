package service

import (
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	QueueFull ErrorKind = iota + 1
	WorkerStopped
	InvalidInput
	AdapterFailure
	AdapterRejected
	NotFound
	NoAddressSource
)

var errorSubtypes = map[ErrorKind]string{
	QueueFull:       "update_queue_full",
	WorkerStopped:   "update_worker_stopped",
	InvalidInput:    "invalid_input",
	AdapterFailure:  "chain_adapter_failure",
	AdapterRejected: "chain_adapter_rejected",
	NotFound:        "not_found",
	NoAddressSource: "no_address_source",
}

// Error is a failure of a use-case outside the fold.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Subtype()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Subtype() string { return errorSubtypes[e.Kind] }

func (e *Error) Code() uint16 { return 3000 + uint16(e.Kind) }

func (e *Error) Status() int {
	switch e.Kind {
	case QueueFull, WorkerStopped:
		return http.StatusServiceUnavailable
	case InvalidInput:
		return http.StatusBadRequest
	case AdapterRejected:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case NoAddressSource:
		return http.StatusNotImplemented
	}
	return http.StatusBadGateway
}

func invalid(format string, args ...any) error {
	return &Error{Kind: InvalidInput, Msg: fmt.Sprintf(format, args...)}
}
