package backend

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "github.com/charlesng35/marketlive/pkg/errors"
)

// APIError is a failed backend call: a non-2xx status or an envelope carrying a failure code.
type APIError struct {
	Status   int
	Code     int
	Message  string
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: %s: status %d code %d: %s", e.Endpoint, e.Status, e.Code, e.Message)
}

// AppError maps the failure onto the local error model, resolving the localized message
// for business codes.
func (e *APIError) AppError() *apperrors.AppError {
	return e.classify().WithInternal(e)
}

// Is lets callers match APIErrors against the pkg/errors sentinels.
func (e *APIError) Is(target error) bool {
	if target == apperrors.ErrUnauthorized && (e.Status == http.StatusUnauthorized || e.Code == apperrors.CodeUnauthenticated) {
		return true
	}
	return errors.Is(e.classify(), target)
}

func (e *APIError) classify() *apperrors.AppError {
	if e.Code != 0 && !successCode(e.Code) {
		return apperrors.FromBusinessCode(e.Code, e.Status)
	}
	switch {
	case e.Status == http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case e.Status == http.StatusForbidden:
		return apperrors.ErrForbidden
	case e.Status == http.StatusNotFound:
		return apperrors.ErrNotFound
	case e.Status == http.StatusTooManyRequests:
		return apperrors.ErrRateLimit
	case e.Status >= http.StatusInternalServerError:
		return apperrors.ErrBackendUnavailable
	}
	return apperrors.New("BACKEND_ERROR", apperrors.GenericMessage, http.StatusBadRequest)
}

// TransportError wraps network failures reaching the backend.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AsAppError converts any error returned by the client into an AppError for rendering.
func AsAppError(err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.AppError()
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return apperrors.ErrBackendUnavailable.WithInternal(err)
	}
	return apperrors.FromError(err)
}
