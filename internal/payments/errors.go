package payments

import (
	"errors"
	"fmt"
)

// Kind classifies a payment failure for the transport layer.
type Kind uint8

const (
	KindOther Kind = iota
	KindValidation
	KindAuthentication
	KindNotFound
	KindDuplicate
	KindGatewayStatus // gateway answered, payment not captured
	KindNetwork       // gateway unreachable or timed out
	KindGateway       // gateway answered with something unusable
	KindPersistence
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not found"
	case KindDuplicate:
		return "duplicate"
	case KindGatewayStatus:
		return "gateway status"
	case KindNetwork:
		return "network"
	case KindGateway:
		return "gateway"
	case KindPersistence:
		return "persistence"
	case KindForbidden:
		return "forbidden"
	default:
		return "unclassified"
	}
}

// Error is the error type returned by Service operations.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same request may succeed later.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindGatewayStatus
}

// KindOf returns the Kind of err, or KindOther for foreign errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func ValidationError(msg string) *Error     { return newError(KindValidation, msg, nil) }
func AuthenticationError(msg string) *Error { return newError(KindAuthentication, msg, nil) }
func NotFoundError(msg string) *Error       { return newError(KindNotFound, msg, nil) }
func DuplicateError(msg string) *Error      { return newError(KindDuplicate, msg, nil) }
func ForbiddenError(msg string) *Error      { return newError(KindForbidden, msg, nil) }

// GatewayStatusError reports a payment the gateway has not captured.
func GatewayStatusError(status string) *Error {
	return newError(KindGatewayStatus, "payment not captured, gateway status: "+status, nil)
}

func NetworkError(err error) *Error     { return newError(KindNetwork, "payment gateway unreachable", err) }
func GatewayError(err error) *Error     { return newError(KindGateway, "payment gateway error", err) }
func PersistenceError(err error) *Error { return newError(KindPersistence, "payment store error", err) }
