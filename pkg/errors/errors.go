package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeExpired            Code = "MEMBERSHIP_EXPIRED"
	CodePaymentFailed      Code = "PAYMENT_FAILED"
	CodeNetwork            Code = "NETWORK_ERROR"
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	CodeValidation         Code = "VALIDATION_ERROR"
	CodeInternal           Code = "INTERNAL_ERROR"
)

// Action hints what the calling surface should offer the customer.
type Action string

const (
	ActionNone            Action = "none"
	ActionRetry           Action = "retry"
	ActionFixField        Action = "fix_field"
	ActionRenewMembership Action = "renew_membership"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	Action         Action
}

var metadataByCode = map[Code]Metadata{
	CodeNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "resource not found",
		DetailsAllowed: true,
		Action:         ActionNone,
	},
	CodeExpired: {
		HTTPStatus:     http.StatusPaymentRequired,
		Retryable:      false,
		PublicMessage:  "membership expired",
		DetailsAllowed: true,
		Action:         ActionRenewMembership,
	},
	CodePaymentFailed: {
		HTTPStatus:     http.StatusPaymentRequired,
		Retryable:      true,
		PublicMessage:  "payment failed",
		DetailsAllowed: false,
		Action:         ActionRetry,
	},
	CodeNetwork: {
		HTTPStatus:     http.StatusBadGateway,
		Retryable:      true,
		PublicMessage:  "network unavailable",
		DetailsAllowed: true,
		Action:         ActionRetry,
	},
	CodeServiceUnavailable: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "service unavailable",
		DetailsAllowed: true,
		Action:         ActionRetry,
	},
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
		Action:         ActionFixField,
	},
	CodeInternal: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      false,
		PublicMessage:  "internal server error",
		DetailsAllowed: false,
		Action:         ActionNone,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Context is the structured context attached to every raised error.
type Context struct {
	Field         string    `json:"field,omitempty"`
	Expected      string    `json:"expected,omitempty"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

type Error struct {
	code    Code
	message string
	details any
	context Context
	action  Action
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message, context: newContext()}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err, context: newContext()}
}

func newContext() Context {
	return Context{
		CorrelationID: uuid.NewString(),
		Timestamp:     time.Now().UTC(),
	}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) Context() Context {
	if e == nil {
		return Context{}
	}
	return e.context
}

// Retryable reports the retry flag from the code metadata.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return MetadataFor(e.code).Retryable
}

// Action returns the explicit action override or the code default.
func (e *Error) Action() Action {
	if e == nil {
		return ActionNone
	}
	if e.action != "" {
		return e.action
	}
	return MetadataFor(e.code).Action
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// WithField records the offending field and, optionally, the expected value.
func (e *Error) WithField(field, expected string) *Error {
	if e == nil {
		return nil
	}
	e.context.Field = field
	e.context.Expected = expected
	return e
}

func (e *Error) WithCorrelationID(id string) *Error {
	if e == nil || id == "" {
		return e
	}
	e.context.CorrelationID = id
	return e
}

func (e *Error) WithAction(action Action) *Error {
	if e == nil {
		return nil
	}
	e.action = action
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsRetryable reports whether err is a typed error flagged retryable.
func IsRetryable(err error) bool {
	typed := As(err)
	return typed != nil && typed.Retryable()
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
