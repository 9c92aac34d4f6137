package service

import (
	"errors"

	"fyzo-chat/internal/models"
	"fyzo-chat/internal/repositories"
)

// Kind classifies a pipeline failure for the request edge.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindBadRequest:
		return "bad_request"
	default:
		return "internal"
	}
}

// Error is returned by every ChatService operation that fails.
// Message is safe to show to clients; Err carries the cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

// NewBadRequest returns a client error for input the pipeline cannot accept.
func NewBadRequest(msg string) *Error { return newError(KindBadRequest, msg, nil) }

// NewForbidden returns an authorization failure.
func NewForbidden(msg string) *Error { return newError(KindForbidden, msg, nil) }

// KindOf reports the kind of err, defaulting to KindInternal.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	return "Internal server error"
}

// storeError maps repository and validation sentinels onto the taxonomy.
func storeError(err error, fallback string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrInvalidID):
		return newError(KindBadRequest, "Invalid id", err)
	case errors.Is(err, repositories.ErrChatNotFound):
		return newError(KindNotFound, "Chat not found", err)
	case errors.Is(err, repositories.ErrMessageNotFound):
		return newError(KindNotFound, "Message not found", err)
	case errors.Is(err, repositories.ErrCreatorNotFound):
		return newError(KindNotFound, "Creator not found", err)
	case errors.Is(err, models.ErrContentRequired),
		errors.Is(err, models.ErrContentTooLong),
		errors.Is(err, models.ErrMediaURLRequired),
		errors.Is(err, models.ErrInvalidType):
		return newError(KindBadRequest, err.Error(), err)
	default:
		return newError(KindInternal, fallback, err)
	}
}
