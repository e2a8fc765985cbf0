package main

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPositionConflict = errors.New("position conflict")
)

// apiError is what handlers surface to clients. Code is one of the
// validation_error, forbidden, not_found, position_conflict, unauthenticated
// or internal_error values.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func validationError(format string, args ...any) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: fmt.Sprintf(format, args...)}
}

// toAPIError maps sentinel and store errors onto the response taxonomy.
// Anything unknown becomes a 500.
func toAPIError(err error) *apiError {
	var ae *apiError
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, ErrNotFound):
		return &apiError{Status: http.StatusNotFound, Code: "not_found", Message: "not found"}
	case errors.Is(err, ErrForbidden):
		return &apiError{Status: http.StatusForbidden, Code: "forbidden", Message: "forbidden"}
	case errors.Is(err, ErrUnauthenticated):
		return &apiError{Status: http.StatusUnauthorized, Code: "unauthenticated", Message: "unauthorized"}
	case errors.Is(err, ErrPositionConflict):
		return &apiError{Status: http.StatusConflict, Code: "position_conflict", Message: "position conflict, refetch and retry"}
	default:
		return &apiError{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error"}
	}
}
