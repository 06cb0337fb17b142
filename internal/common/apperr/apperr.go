// Package apperr provides the error taxonomy used across aweb's service
// layer, mapped to HTTP status codes at the boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants.
const (
	CodeAuthRequired          = "AUTH_REQUIRED"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodeForbiddenForActor     = "FORBIDDEN_FOR_ACTOR"
	CodeNotFound              = "NOT_FOUND"
	CodeGone                  = "GONE"
	CodeConflict              = "CONFLICT"
	CodeValidationError       = "VALIDATION_ERROR"
	CodeBadRequest            = "BAD_REQUEST"
	CodeDependencyUnavailable = "DEPENDENCY_UNAVAILABLE"
	CodeAliasExhausted        = "ALIAS_EXHAUSTED"
	CodeInternal              = "INTERNAL"
)

// AppError represents a typed domain error with additional context, the
// service layer's only error currency. Extras carries response
// sidecar fields such as Gone's successor_alias.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"detail"`
	HTTPStatus int            `json:"-"`
	Extras     map[string]any `json:"-"`
	Err        error          `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Body returns the JSON error body {detail, ...extras}.
func (e *AppError) Body() map[string]any {
	body := map[string]any{"detail": e.Message}
	for k, v := range e.Extras {
		body[k] = v
	}
	return body
}

// AuthRequired creates an error for a missing token or header bundle.
func AuthRequired(message string) *AppError {
	return &AppError{Code: CodeAuthRequired, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// InvalidCredentials creates an error for a rejected token or signature.
func InvalidCredentials(message string) *AppError {
	return &AppError{Code: CodeInvalidCredentials, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// ForbiddenForActor creates an error for an authenticated actor that is not
// the owner/participant of the resource it addressed.
func ForbiddenForActor(message string) *AppError {
	return &AppError{Code: CodeForbiddenForActor, Message: message, HTTPStatus: http.StatusForbidden}
}

// NotFound creates a not-found error for a resource scoped to a tenant.
// Cross-tenant lookups must use this, never ForbiddenForActor, to avoid
// existence leaks.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Gone creates an error for a retired recipient, carrying the successor
// alias (if any) so callers can retarget mail.
func Gone(message, successorAlias string) *AppError {
	err := &AppError{Code: CodeGone, Message: message, HTTPStatus: http.StatusGone}
	if successorAlias != "" {
		err.Extras = map[string]any{"successor_alias": successorAlias}
	}
	return err
}

// Conflict creates an error for a held reservation, taken alias, or
// duplicate contact.
func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

// ValidationError creates an error for malformed input: bad format,
// length, pattern, or the reserved alias `me`.
func ValidationError(field, message string) *AppError {
	return &AppError{
		Code:       CodeValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// BadRequest creates an error for well-formed but semantically invalid
// input: self-contact, self-successor, rotate-ephemeral, and similar.
func BadRequest(message string) *AppError {
	return &AppError{Code: CodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

// DependencyUnavailable creates an error for a missing required dependency,
// such as an absent custody master key.
func DependencyUnavailable(dependency string) *AppError {
	return &AppError{
		Code:       CodeDependencyUnavailable,
		Message:    fmt.Sprintf("dependency '%s' is unavailable", dependency),
		HTTPStatus: http.StatusInternalServerError,
	}
}

// AliasExhausted creates an error for a tenant whose fixed alias candidate
// sequence has been fully allocated.
func AliasExhausted(tenantSlug string) *AppError {
	return &AppError{
		Code:       CodeAliasExhausted,
		Message:    fmt.Sprintf("no alias candidates remain for tenant '%s'", tenantSlug),
		HTTPStatus: http.StatusConflict,
	}
}

// Internal creates an error for an invariant violation, wrapping the
// underlying cause.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, preserving an
// AppError's code and status if present, otherwise producing an Internal.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Extras:     appErr.Extras,
			Err:        err,
		}
	}

	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeConflict
	}
	return false
}

// IsGone reports whether err is a Gone error.
func IsGone(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeGone
	}
	return false
}

// HTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
