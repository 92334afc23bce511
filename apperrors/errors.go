// Package apperrors defines the error kinds surfaced to API callers.
//
// Every kind is recoverable by the caller: the message and details carry enough
// information to retry or correct the request. Unexpected persistence failures are
// not modelled here; they are wrapped with %w and rendered as a generic server error.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind string

const (
	KindValidation            Kind = "VALIDATION_ERROR"
	KindNotFound              Kind = "NOT_FOUND"
	KindUnauthorized          Kind = "UNAUTHORIZED"
	KindInsufficientFunds     Kind = "INSUFFICIENT_FUNDS"
	KindNoLikesRemaining      Kind = "NO_LIKES_REMAINING"
	KindNoSlotsAvailable      Kind = "NO_SLOTS_AVAILABLE"
	KindSlotsFull             Kind = "SLOTS_FULL"
	KindAlreadyInteracted     Kind = "ALREADY_INTERACTED"
	KindAlreadyRevealed       Kind = "ALREADY_REVEALED"
	KindAlreadyChatting       Kind = "ALREADY_CHATTING"
	KindRevealRequired        Kind = "REVEAL_REQUIRED"
	KindNotActive             Kind = "NOT_ACTIVE"
	KindChoiceAlreadyRecorded Kind = "CHOICE_ALREADY_RECORDED"
	KindSessionExpired        Kind = "SESSION_EXPIRED"
	KindProfileIncomplete     Kind = "PROFILE_INCOMPLETE"
	KindAlreadyInSession      Kind = "ALREADY_IN_SESSION"
	KindAlreadyClaimed        Kind = "ALREADY_CLAIMED"
	KindConflict              Kind = "CONFLICT"
)

// Error is a typed, caller-facing error.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on Kind so that errors.Is(err, apperrors.ErrNotFound) works for any
// NotFound error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetail returns a copy of e carrying an extra detail field.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Details: details}
}

// HTTPStatus maps the kind onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindAlreadyInteracted, KindAlreadyRevealed, KindAlreadyChatting,
		KindChoiceAlreadyRecorded, KindAlreadyInSession, KindAlreadyClaimed, KindConflict:
		return http.StatusConflict
	case KindSessionExpired:
		return http.StatusGone
	default:
		return http.StatusBadRequest
	}
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation            = &Error{Kind: KindValidation}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrUnauthorized          = &Error{Kind: KindUnauthorized}
	ErrInsufficientFunds     = &Error{Kind: KindInsufficientFunds}
	ErrNoLikesRemaining      = &Error{Kind: KindNoLikesRemaining}
	ErrNoSlotsAvailable      = &Error{Kind: KindNoSlotsAvailable}
	ErrSlotsFull             = &Error{Kind: KindSlotsFull}
	ErrAlreadyInteracted     = &Error{Kind: KindAlreadyInteracted}
	ErrAlreadyRevealed       = &Error{Kind: KindAlreadyRevealed}
	ErrAlreadyChatting       = &Error{Kind: KindAlreadyChatting}
	ErrRevealRequired        = &Error{Kind: KindRevealRequired}
	ErrNotActive             = &Error{Kind: KindNotActive}
	ErrChoiceAlreadyRecorded = &Error{Kind: KindChoiceAlreadyRecorded}
	ErrSessionExpired        = &Error{Kind: KindSessionExpired}
	ErrProfileIncomplete     = &Error{Kind: KindProfileIncomplete}
	ErrAlreadyInSession      = &Error{Kind: KindAlreadyInSession}
	ErrAlreadyClaimed        = &Error{Kind: KindAlreadyClaimed}
	ErrConflict              = &Error{Kind: KindConflict}
)

// Validation is shorthand for a KindValidation error.
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

// NotFound is shorthand for a KindNotFound error.
func NotFound(what string) *Error {
	return New(KindNotFound, "%s not found", what)
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
