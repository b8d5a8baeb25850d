package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code identifies a class of failure surfaced to the console.
//
// These values are part of the API contract; the frontend switches on them.
type Code string

const (
	// authorization predicate failed. Nothing has been mutated.
	NotAuthorized Code = "NOT_AUTHORIZED"

	// a call to a backing store failed. Nothing is assumed committed.
	UpstreamError Code = "UPSTREAM_ERROR"

	// identity store refused to create a user because the username is taken.
	UserConflictUsername Code = "USER_CONFLICT_USERNAME"

	// identity store refused to create or update a user because the email is taken.
	UserConflictEmail Code = "USER_CONFLICT_EMAIL"

	// a stored or input value could not be interpreted by the attribute codec,
	// or a request argument is malformed.
	MalformedAttribute Code = "MALFORMED_ATTRIBUTE"

	// the primary mutation succeeded but a dependent role/group wiring call
	// failed. This code appears in audit logs only; it is never returned to
	// the caller as a failure of the primary operation.
	SideEffectFailure Code = "SIDE_EFFECT_FAILURE"

	// the target user has no email address to send to.
	UserEmailNotExist Code = "USER_EMAIL_NOT_EXIST"
)

type ErrorResponse struct {
	Message ErrorMessage `json:"message"`
}

// ErrorMessage is the error shape this server returns and logs.
type ErrorMessage struct {
	Code   Code   `json:"code"`
	Reason string `json:"reason"`
	Cause  error  `json:"-"`
}

func (e ErrorMessage) Error() string {
	lines := []string{fmt.Sprintf("[%s] %s", e.Code, e.Reason)}
	if e.Cause != nil {
		lines = append(lines, fmt.Sprint("caused by: ", e.Cause.Error()))
	}
	return strings.Join(lines, "\n")
}

func (e ErrorMessage) Unwrap() error {
	return e.Cause
}

func New(code Code, reason string) ErrorMessage {
	return ErrorMessage{Code: code, Reason: reason}
}

func Wrap(code Code, reason string, cause error) ErrorMessage {
	return ErrorMessage{Code: code, Reason: reason, Cause: cause}
}

// CodeOf extracts the Code of err.
//
// Errors not built from this package count as UpstreamError,
// the catch-all for failures leaking out of store clients.
func CodeOf(err error) Code {
	var em ErrorMessage
	if errors.As(err, &em) {
		return em.Code
	}
	return UpstreamError
}

// HTTPStatus maps a Code onto the status the HTTP boundary responds with.
func HTTPStatus(code Code) int {
	switch code {
	case NotAuthorized:
		return http.StatusForbidden
	case UserConflictUsername, UserConflictEmail:
		return http.StatusConflict
	case MalformedAttribute, UserEmailNotExist:
		return http.StatusBadRequest
	case UpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
