package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrValidation marks malformed input rejected before any write.
	ErrValidation = errors.New("validation error")
	// ErrMissingData marks a referenced id or name that does not exist.
	ErrMissingData = errors.New("missing data")
	// ErrAlreadyExists marks a uniqueness violation on a natural key.
	ErrAlreadyExists = errors.New("already exists")
	// ErrTaskExecution marks a worker-reported failure. It is recorded on the
	// record and never retried automatically.
	ErrTaskExecution = errors.New("task execution error")
	// ErrServiceIteration marks an uncaught failure inside a service Iterate
	// hook. The workflow halts and the record lands in the error status.
	ErrServiceIteration = errors.New("service iteration error")
)

// Wrap builds an error that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Validation is shorthand for a formatted validation error.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// MissingData is shorthand for a formatted missing-data error.
func MissingData(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMissingData, fmt.Sprintf(format, args...))
}

// HTTPStatus maps a classified error to the response code the API should
// return. Unclassified errors are treated as internal.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrMissingData):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "internal failure"
	}
	return strings.Join(parts, ": ")
}
