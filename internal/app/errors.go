package app

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"qahub/api/internal/auth"
	"qahub/api/internal/authpw"
	"qahub/api/internal/store"
	"qahub/api/internal/thread"
)

const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnauthenticated  = "UNAUTHENTICATED"
	CodeInvalidToken     = "INVALID_TOKEN"
	CodeForbidden        = "FORBIDDEN"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeVersionConflict  = "VERSION_CONFLICT"
	CodeNoResult         = "NO_RESULT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL_ERROR"
)

// DomainError is the single error shape handlers serialise. Errors holds the
// field→message map clients read; RetryAfter is set for throttled requests.
type DomainError struct {
	Status     int
	Code       string
	Errors     map[string]string
	RetryAfter int
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, len(e.Errors))
	for field, message := range e.Errors {
		parts = append(parts, field+"="+message)
	}
	return fmt.Sprintf("%s: %s", e.Code, strings.Join(parts, ", "))
}

func domainError(status int, code, field, message string) *DomainError {
	return &DomainError{
		Status: status,
		Code:   code,
		Errors: map[string]string{field: message},
	}
}

func validationError(errs map[string]string) *DomainError {
	return &DomainError{Status: http.StatusBadRequest, Code: CodeValidationFailed, Errors: errs}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, "notFound", message)
}

var (
	errMissingToken = domainError(http.StatusUnauthorized, CodeUnauthenticated, "message", "Access denied. No token provided")
	errNoQuestions  = notFound("There are no questions available")
	errNoOwnQ       = notFound("This user has no questions yet")
	errGoneQuestion = notFound("Question by that id is either deleted or does not exists")
	errUserNotFound = notFound("User by that id not found")
)

// invalidToken reproduces the {name, message} shape of the token library errors clients know.
func invalidToken(err error) *DomainError {
	name, message := "JsonWebTokenError", "invalid token"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		name, message = "TokenExpiredError", "jwt expired"
	case errors.Is(err, errRevokedToken):
		message = "jwt revoked"
	case errors.Is(err, errStaleToken):
		message = "password changed since the token was issued"
	}
	return &DomainError{
		Status: http.StatusBadRequest,
		Code:   CodeInvalidToken,
		Errors: map[string]string{"name": name, "message": message},
	}
}

var (
	errRevokedToken = fmt.Errorf("%w: revoked", auth.ErrInvalidToken)
	errStaleToken   = fmt.Errorf("%w: stale password claim", auth.ErrInvalidToken)
)

func threadError(err *thread.Error) *DomainError {
	status, code := http.StatusInternalServerError, CodeInternal
	switch err.Kind {
	case thread.KindNotFound:
		status, code = http.StatusNotFound, CodeNotFound
	case thread.KindForbidden:
		status, code = http.StatusUnauthorized, CodeForbidden
	case thread.KindConflict:
		status, code = http.StatusConflict, CodeConflict
	case thread.KindNoResult:
		status, code = http.StatusBadRequest, CodeNoResult
	}
	return domainError(status, code, err.Field, err.Message)
}

// mapError turns any service error into a DomainError. Unknown errors are logged
// and reported as InternalError without leaking their text.
func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var threadErr *thread.Error
	if errors.As(err, &threadErr) {
		return threadError(threadErr)
	}
	switch {
	case errors.Is(err, store.ErrVersionConflict):
		return domainError(http.StatusConflict, CodeVersionConflict, "version", "The question was changed by another request. Reload it and try again")
	case errors.Is(err, store.ErrDuplicateQuestion):
		return domainError(http.StatusConflict, CodeConflict, "questionExists", "question already asked")
	case errors.Is(err, authpw.ErrEmailTaken), errors.Is(err, store.ErrDuplicateEmail):
		return domainError(http.StatusConflict, CodeConflict, "global", "Email already exists")
	case errors.Is(err, authpw.ErrUserNameTaken), errors.Is(err, store.ErrDuplicateUserName):
		return domainError(http.StatusConflict, CodeConflict, "userName", "User name already taken")
	case errors.Is(err, authpw.ErrUnknownEmail):
		return domainError(http.StatusUnauthorized, CodeUnauthenticated, "global", "Failed to log in. Confirm email and password")
	case errors.Is(err, authpw.ErrBadPassword):
		return domainError(http.StatusUnauthorized, CodeUnauthenticated, "global", "Invalid credentials")
	case errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrInvalidToken):
		return invalidToken(err)
	case errors.Is(err, store.ErrNotFound):
		return notFound("Resource not found")
	}
	log.Printf("app: internal error: %v", err)
	return domainError(http.StatusInternalServerError, CodeInternal, "global", "Something went wrong. Please try again later")
}
