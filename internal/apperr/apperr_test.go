package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndCodeOf(t *testing.T) {
	cause := errors.New("pq: relation does not exist")
	err := fmt.Errorf("complete: %w", Failed(CompleteFailed, cause))

	assert.Equal(t, KindOperationFailed, KindOf(err))
	assert.Equal(t, CompleteFailed, CodeOf(err))
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf_ForeignErrorIsInternal(t *testing.T) {
	err := errors.New("dial tcp 10.0.0.1:5432: connection refused")

	assert.Equal(t, Internal, CodeOf(err))
	assert.Equal(t, KindOperationFailed, KindOf(err))
}

func TestForbiddenUsesUnauthorizedCode(t *testing.T) {
	err := Forbidden(nil)

	assert.Equal(t, KindForbidden, err.Kind)
	assert.Equal(t, Unauthorized, err.Code)
	assert.Equal(t, "unauthorized", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{KindForbidden, http.StatusForbidden},
		{KindOperationFailed, http.StatusInternalServerError},
		{Kind(0), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}
