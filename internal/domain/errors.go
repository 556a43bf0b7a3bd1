package domain

import (
	"errors"
)

// Failure kinds surfaced to clients. Concrete errors wrap one of these.
var (
	ErrUnknownRecipient = errors.New("unknown recipient")
	ErrPersistence      = errors.New("persistence failure")
	ErrTransport        = errors.New("transport failure")
	ErrInvalidRequest   = errors.New("invalid request")
)

// Error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnknownRecipient   = "UNKNOWN_RECIPIENT"
	ErrCodePersistenceFailure = "PERSISTENCE_FAILURE"
	ErrCodeTransportFailure   = "TRANSPORT_FAILURE"
	ErrCodeNotJoined          = "NOT_JOINED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// ErrorCode maps err to the code reported in acknowledgments.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return ErrCodeBadRequest
	case errors.Is(err, ErrUnknownRecipient):
		return ErrCodeUnknownRecipient
	case errors.Is(err, ErrPersistence):
		return ErrCodePersistenceFailure
	case errors.Is(err, ErrTransport):
		return ErrCodeTransportFailure
	default:
		return ErrCodeInternalError
	}
}

// Reason returns the client-facing reason for err. Persistence and
// unclassified errors are reported without their underlying cause.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrUnknownRecipient):
		return err.Error()
	case errors.Is(err, ErrPersistence):
		return ErrPersistence.Error()
	case errors.Is(err, ErrTransport):
		return ErrTransport.Error()
	default:
		return "internal server error"
	}
}
