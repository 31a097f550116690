package router

import (
	"errors"
	"fmt"

	"github.com/adscore/adsrouter/wire/ads"
)

// ErrorKind classifies a local (non-device) failure, disjoint from the
// ADS result code range returned by devices (§7).
type ErrorKind int

const (
	// ErrKindUnknown is never returned; it is the zero value guard.
	ErrKindUnknown ErrorKind = iota
	ErrKindInvalidPort
	ErrKindNoRoute
	ErrKindInvalidParam
	ErrKindTransportClosed
	ErrKindTimeout
	ErrKindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindInvalidPort:
		return "invalid_port"
	case ErrKindNoRoute:
		return "no_route"
	case ErrKindInvalidParam:
		return "invalid_param"
	case ErrKindTransportClosed:
		return "transport_closed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is a classified local error. ErrKindDecode marks a response body
// that could not be parsed: the request fails with it, but the
// Connection the reply arrived on is not closed, and IsRetryable reports
// false for it. A malformed frame header is different: the receive loop
// closes the Connection, and waiting callers see ErrKindTransportClosed.
type Error struct {
	Kind      ErrorKind
	Operation string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("router: %s: %s: %v", e.Operation, e.Kind, e.Err)
	}
	return fmt.Sprintf("router: %s: %s", e.Operation, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrorKind, operation string, err error) *Error {
	return &Error{Kind: kind, Operation: operation, Err: err}
}

func errInvalidPort(operation string) error {
	return newError(ErrKindInvalidPort, operation, errors.New("port not open"))
}

func errNoRoute(operation string, netId AmsNetId) error {
	return newError(ErrKindNoRoute, operation, fmt.Errorf("no route to %s", netId))
}

func errInvalidParam(operation string, msg string) error {
	return newError(ErrKindInvalidParam, operation, errors.New(msg))
}

func errTransportClosed(operation string, err error) error {
	return newError(ErrKindTransportClosed, operation, err)
}

func errTimeout(operation string) error {
	return newError(ErrKindTimeout, operation, errors.New("request timed out"))
}

func errDecode(operation string, err error) error {
	return newError(ErrKindDecode, operation, err)
}

// AsADSError reports whether err (or something it wraps) is a device
// result code, and returns it.
func AsADSError(err error) (ads.Error, bool) {
	var adsErr ads.Error
	if errors.As(err, &adsErr) {
		return adsErr, true
	}
	return 0, false
}

// IsRetryable reports whether a failed operation is worth retrying
// as-is (true for transient network/device conditions) versus requiring
// the caller to fix something first (invalid port, bad parameter).
func IsRetryable(err error) bool {
	var rerr *Error
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case ErrKindTransportClosed, ErrKindTimeout:
			return true
		default:
			return false
		}
	}

	if adsErr, ok := AsADSError(err); ok {
		switch adsErr {
		case ads.ErrTargetPortNotFound, ads.ErrTargetMachineNotFound, ads.ErrDeviceBusy, ads.ErrDeviceTimeout:
			return true
		default:
			return false
		}
	}

	return false
}
