package errs_test

import (
	"errors"
	"net/http"
	"testing"

	"crucible/internal/errs"
)

func TestWrapPreservesMarker(t *testing.T) {
	cause := errors.New("boom")
	err := errs.Wrap(errs.ErrMissingData, "storage", "get record", "id 42", cause)
	if !errors.Is(err, errs.ErrMissingData) {
		t.Fatalf("expected missing-data classification, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to survive, got %v", err)
	}
}

func TestWrapDefaultsToValidation(t *testing.T) {
	err := errs.Wrap(nil, "api", "submit", "empty body", nil)
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation default, got %v", err)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", errs.Validation("bad input"), http.StatusBadRequest},
		{"missing", errs.MissingData("record %d", 7), http.StatusNotFound},
		{"exists", errs.Wrap(errs.ErrAlreadyExists, "storage", "insert", "", nil), http.StatusConflict},
		{"unclassified", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := errs.HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}
