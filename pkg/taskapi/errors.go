package taskapi

import (
	"errors"
	"fmt"
	"net/http"

	"taskhive/internal/model"
)

var (
	// ErrTransport covers requests that never reached the server and
	// responses that could not be decoded.
	ErrTransport = errors.New("taskapi: transport failure")

	ErrUnauthenticated = errors.New("taskapi: session invalid")
	ErrForbidden       = errors.New("taskapi: forbidden")
	ErrNotFound        = errors.New("taskapi: not found")
	ErrConflict        = errors.New("taskapi: conflict")
	ErrRateLimited     = errors.New("taskapi: rate limited")

	// ErrPartialBulk is matched by a BulkError.
	ErrPartialBulk = errors.New("taskapi: bulk operation did not fully succeed")
)

// APIError is a non-2xx response from the Task API.
type APIError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthenticated:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case model.ErrValidation:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	}
	return false
}

// BulkError is returned when a bulk endpoint answers 2xx but reports failed
// items. The caller treats it like any other failed mutation.
type BulkError struct {
	Result model.BulkResult
}

func (e *BulkError) Error() string {
	if len(e.Result.Errors) > 0 {
		first := e.Result.Errors[0]
		return fmt.Sprintf("bulk operation: %d failed (first: %s: %s)", e.Result.FailedCount, first.TaskID, first.Error)
	}
	return fmt.Sprintf("bulk operation: %d failed", e.Result.FailedCount)
}

func (e *BulkError) Is(target error) bool {
	return target == ErrPartialBulk
}

func checkBulk(res model.BulkResult) (model.BulkResult, error) {
	if !res.Success || res.FailedCount > 0 {
		return res, &BulkError{Result: res}
	}
	return res, nil
}
