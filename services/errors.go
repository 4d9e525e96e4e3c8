package services

import (
	"errors"
	"net/http"
)

// ErrorKind classifies service failures independently of transport.
type ErrorKind string

const (
	KindEmptyCart            ErrorKind = "EmptyCart"
	KindNotFound             ErrorKind = "NotFound"
	KindOwnershipDenied      ErrorKind = "OwnershipDenied"
	KindInvalidTransition    ErrorKind = "InvalidTransition"
	KindUnknownStatus        ErrorKind = "UnknownStatus"
	KindNotCancellable       ErrorKind = "NotCancellable"
	KindOrderNotPending      ErrorKind = "OrderNotPending"
	KindGatewayUnavailable   ErrorKind = "GatewayUnavailable"
	KindGatewayMisconfigured ErrorKind = "GatewayMisconfigured"
	KindSignatureMismatch    ErrorKind = "SignatureMismatch"
	KindDuplicateCallback    ErrorKind = "DuplicateCallback"
	KindInvalidRequest       ErrorKind = "InvalidRequest"
	KindInternal             ErrorKind = "Internal"
)

var kindStatus = map[ErrorKind]int{
	KindEmptyCart:            http.StatusBadRequest,
	KindNotFound:             http.StatusNotFound,
	KindOwnershipDenied:      http.StatusForbidden,
	KindInvalidTransition:    http.StatusConflict,
	KindUnknownStatus:        http.StatusBadRequest,
	KindNotCancellable:       http.StatusConflict,
	KindOrderNotPending:      http.StatusConflict,
	KindGatewayUnavailable:   http.StatusBadGateway,
	KindGatewayMisconfigured: http.StatusServiceUnavailable,
	KindSignatureMismatch:    http.StatusUnauthorized,
	KindDuplicateCallback:    http.StatusOK,
	KindInvalidRequest:       http.StatusBadRequest,
	KindInternal:             http.StatusInternalServerError,
}

// ServiceError is a typed error with an HTTP status code.
type ServiceError struct {
	StatusCode int
	Kind       ErrorKind
	Message    string
	Err        error
}

func (e *ServiceError) Error() string { return e.Message }

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches on kind, so errors.Is(err, ErrNotFound) works for any
// NotFound error.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Kind == e.Kind
}

var (
	ErrEmptyCart            = &ServiceError{Kind: KindEmptyCart}
	ErrNotFound             = &ServiceError{Kind: KindNotFound}
	ErrOwnershipDenied      = &ServiceError{Kind: KindOwnershipDenied}
	ErrInvalidTransition    = &ServiceError{Kind: KindInvalidTransition}
	ErrUnknownStatus        = &ServiceError{Kind: KindUnknownStatus}
	ErrNotCancellable       = &ServiceError{Kind: KindNotCancellable}
	ErrOrderNotPending      = &ServiceError{Kind: KindOrderNotPending}
	ErrGatewayUnavailable   = &ServiceError{Kind: KindGatewayUnavailable}
	ErrGatewayMisconfigured = &ServiceError{Kind: KindGatewayMisconfigured}
	ErrInvalidRequest       = &ServiceError{Kind: KindInvalidRequest}
	ErrInternal             = &ServiceError{Kind: KindInternal}
)

func newError(kind ErrorKind, message string, err error) *ServiceError {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &ServiceError{StatusCode: status, Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
