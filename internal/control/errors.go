package control

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// ErrorCode identifies an API failure.
type ErrorCode string

const (
	CodeInvalidRequest       ErrorCode = "INVALID_REQUEST"        // 400
	CodeNoIntervention       ErrorCode = "NO_ACTIVE_INTERVENTION" // 404
	CodePolicyNotFound       ErrorCode = "POLICY_NOT_FOUND"       // 404
	CodePasswordRequired     ErrorCode = "PASSWORD_REQUIRED"      // 409
	CodeNotPasswordProtected ErrorCode = "NOT_PASSWORD_PROTECTED" // 409
	CodeEngineNotRunning     ErrorCode = "ENGINE_NOT_RUNNING"     // 503
	CodeInternal             ErrorCode = "INTERNAL"               // 500
)

// APIError is the JSON error body {code, message}.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Status  int       `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap maps the code back to its domain sentinel so clients can use errors.Is.
func (e *APIError) Unwrap() error {
	return codeSentinels[e.Code]
}

var codeSentinels = map[ErrorCode]error{
	CodeNoIntervention:       domain.ErrNoActiveIntervention,
	CodePolicyNotFound:       domain.ErrPolicyNotFound,
	CodePasswordRequired:     domain.ErrDismissNotAllowed,
	CodeNotPasswordProtected: domain.ErrNotPasswordProtected,
	CodeEngineNotRunning:     domain.ErrEngineNotRunning,
}

func newInvalidRequest(msg string) *APIError {
	return &APIError{Code: CodeInvalidRequest, Status: http.StatusBadRequest, Message: msg}
}

// toAPIError classifies err by its domain sentinel.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, domain.ErrNoActiveIntervention):
		return &APIError{Code: CodeNoIntervention, Status: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrPolicyNotFound):
		return &APIError{Code: CodePolicyNotFound, Status: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrDismissNotAllowed):
		return &APIError{Code: CodePasswordRequired, Status: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrNotPasswordProtected):
		return &APIError{Code: CodeNotPasswordProtected, Status: http.StatusConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrEngineNotRunning):
		return &APIError{Code: CodeEngineNotRunning, Status: http.StatusServiceUnavailable, Message: err.Error()}
	default:
		return &APIError{Code: CodeInternal, Status: http.StatusInternalServerError, Message: err.Error()}
	}
}
