// Package apperr defines the closed set of error kinds surfaced by the booking core.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind is a stable, machine-readable error classification.
type Kind string

const (
	KindValidation           Kind = "VALIDATION_ERROR"
	KindAccessDenied         Kind = "ACCESS_DENIED"
	KindNotFound             Kind = "NOT_FOUND"
	KindSpecialistNotFound   Kind = "SPECIALIST_NOT_FOUND"
	KindOrganizationNotFound Kind = "ORGANIZATION_NOT_FOUND"
	KindSlotUnavailable      Kind = "SLOT_UNAVAILABLE"
	KindInvalidTransition    Kind = "INVALID_TRANSITION"
	KindExternalSyncFailed   Kind = "EXTERNAL_SYNC_FAILED"
	KindRateLimitExceeded    Kind = "RATE_LIMIT_EXCEEDED"
	KindServiceUnavailable   Kind = "SERVICE_UNAVAILABLE"
	KindUnauthorized         Kind = "UNAUTHORIZED"
	KindTimeout              Kind = "TIMEOUT"
	KindNetwork              Kind = "NETWORK_ERROR"
	KindUnknown              Kind = "UNKNOWN_ERROR"
	KindInvalidResponse      Kind = "INVALID_RESPONSE"
	KindProvider             Kind = "PROVIDER_ERROR"
	KindInvalidSignature     Kind = "INVALID_SIGNATURE"
	KindInternal             Kind = "INTERNAL_ERROR"
)

// UnavailableMessage is shown for transient upstream failures.
const UnavailableMessage = "The scheduling service is temporarily unavailable. Please try again shortly."

// ProviderMessage is shown when the scheduling service rejects or fails a request.
const ProviderMessage = "The scheduling service could not complete the request. Please try again later."

const syncFailedMessage = "The booking could not be confirmed with the scheduling service"

var statusByKind = map[Kind]int{
	KindValidation:           http.StatusBadRequest,
	KindAccessDenied:         http.StatusForbidden,
	KindNotFound:             http.StatusNotFound,
	KindSpecialistNotFound:   http.StatusNotFound,
	KindOrganizationNotFound: http.StatusUnprocessableEntity,
	KindSlotUnavailable:      http.StatusConflict,
	KindInvalidTransition:    http.StatusConflict,
	KindExternalSyncFailed:   http.StatusBadGateway,
	KindRateLimitExceeded:    http.StatusTooManyRequests,
	KindServiceUnavailable:   http.StatusServiceUnavailable,
	KindUnauthorized:         http.StatusUnauthorized,
	KindTimeout:              http.StatusGatewayTimeout,
	KindNetwork:              http.StatusBadGateway,
	KindUnknown:              http.StatusBadGateway,
	KindInvalidResponse:      http.StatusBadGateway,
	KindProvider:             http.StatusBadGateway,
	KindInvalidSignature:     http.StatusUnauthorized,
	KindInternal:             http.StatusInternalServerError,
}

// Error is the typed error returned across package boundaries.
type Error struct {
	Kind       Kind           `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	RetryAfter time.Duration  `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails attaches user-safe structured details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// New builds an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: StatusFor(kind)}
}

// Wrap builds an error of the given kind that keeps cause for diagnostics.
func Wrap(err error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, HTTPStatus: StatusFor(kind), Err: err}
}

// StatusFor maps a kind to its HTTP-equivalent status code.
func StatusFor(kind Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// As extracts the typed error from a chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == kind
}

func Validation(message string, details map[string]any) *Error {
	return New(KindValidation, message).WithDetails(details)
}

func AccessDenied() *Error {
	return New(KindAccessDenied, "You do not have access to this booking")
}

func NotFound(resource string) *Error {
	return New(KindNotFound, fmt.Sprintf("%s not found", resource))
}

func SpecialistNotFound() *Error {
	return New(KindSpecialistNotFound, "Specialist not found or not active")
}

func OrganizationNotFound() *Error {
	return New(KindOrganizationNotFound, "You must belong to an organization to create bookings")
}

func SlotUnavailable() *Error {
	return New(KindSlotUnavailable, "This time slot is no longer available. Please choose another time.")
}

func InvalidTransition(from, to string) *Error {
	return New(KindInvalidTransition, fmt.Sprintf("Cannot change booking status from %s to %s", from, to)).
		WithDetails(map[string]any{"from": from, "to": to})
}

// ExternalSyncFailed wraps a provider failure during booking creation. The
// upstream message is never reused; transient failures get the retry hint.
func ExternalSyncFailed(err error) *Error {
	msg := syncFailedMessage
	switch KindOf(err) {
	case KindServiceUnavailable, KindTimeout, KindNetwork:
		msg = UnavailableMessage
	}
	return Wrap(err, KindExternalSyncFailed, msg)
}

func RateLimited(retryAfter time.Duration) *Error {
	e := New(KindRateLimitExceeded, "Too many requests to the scheduling service. Please try again later.")
	e.RetryAfter = retryAfter
	return e.WithDetails(map[string]any{"retry_after_seconds": int(retryAfter.Round(time.Second).Seconds())})
}

// Internal hides err behind a generic message.
func Internal(err error) *Error {
	return Wrap(err, KindInternal, "Something went wrong. Please try again.")
}
