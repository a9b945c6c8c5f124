package errutil

import (
	"errors"
	"fmt"
)

type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

func (e BaseError) Status() CoreStatus {
	return e.Code
}

func (e BaseError) Unwrap() error {
	return e.Err
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e BaseError) JSON() interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": e.Message,
		},
	}
}

type Option func(*BaseError)

func WithErr(err error) Option {
	return func(be *BaseError) { be.Err = err }
}

func New(code CoreStatus, message string, opts ...Option) error {
	be := BaseError{Code: code, Message: message}
	for _, opt := range opts {
		opt(&be)
	}
	return be
}

// StatusOf extracts the CoreStatus carried by err, or StatusUnknown when err
// does not originate from this package.
func StatusOf(err error) CoreStatus {
	if err == nil {
		return ""
	}
	var base BaseError
	if errors.As(err, &base) {
		return base.Code
	}
	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return coder.Status()
	}
	return StatusUnknown
}

func NotRegistered(msg string, opts ...Option) error {
	return New(StatusNotRegistered, msg, opts...)
}

func NotPermitted(msg string, opts ...Option) error {
	return New(StatusNotPermitted, msg, opts...)
}

func CrossTenantAccess(msg string, opts ...Option) error {
	return New(StatusCrossTenantAccess, msg, opts...)
}

func LicenseInactive(msg string, opts ...Option) error {
	return New(StatusLicenseInactive, msg, opts...)
}

func ReadOnlyRole(msg string, opts ...Option) error {
	return New(StatusReadOnlyRole, msg, opts...)
}

func KeyCollision(msg string, opts ...Option) error {
	return New(StatusKeyCollision, msg, opts...)
}

func PersistenceFailure(msg string, opts ...Option) error {
	return New(StatusPersistenceFailure, msg, opts...)
}

func DuplicateTransaction(msg string, opts ...Option) error {
	return New(StatusDuplicateTransaction, msg, opts...)
}

func UnknownTenant(msg string, opts ...Option) error {
	return New(StatusUnknownTenant, msg, opts...)
}

func NotFound(msg string, opts ...Option) error {
	return New(StatusNotFound, msg, opts...)
}

func Conflict(msg string, opts ...Option) error {
	return New(StatusConflict, msg, opts...)
}

func BadRequest(msg string, opts ...Option) error {
	return New(StatusBadRequest, msg, opts...)
}

func Internal(msg string, opts ...Option) error {
	return New(StatusInternal, msg, opts...)
}
