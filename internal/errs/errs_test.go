package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NewNotFoundError("missing", false)))
	assert.Equal(t, KindInvalidState, KindOf(NewInvalidStateError("deleted")))
	assert.Equal(t, KindConflict, KindOf(NewConflictError("busy")))
	assert.Equal(t, KindInvalidArgument, KindOf(NewInvalidArgumentError("bad", nil)))
	assert.Equal(t, KindInfrastructure, KindOf(NewInfrastructureError()))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(NewUnauthorizedError("nope", false)))
}

func TestKindOfWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewConflictError("busy"))
	assert.Equal(t, KindConflict, KindOf(wrapped))
}

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NewNotFoundError("m", false).Status)
	assert.Equal(t, http.StatusUnprocessableEntity, NewInvalidStateError("m").Status)
	assert.Equal(t, http.StatusConflict, NewConflictError("m").Status)
	assert.Equal(t, http.StatusBadRequest, NewInvalidArgumentError("m", nil).Status)
	assert.Equal(t, http.StatusInternalServerError, NewInfrastructureError().Status)
}

func TestInfrastructureErrorHidesDetails(t *testing.T) {
	err := NewInfrastructureError()
	assert.Equal(t, http.StatusText(http.StatusInternalServerError), err.Message)
}

func TestMakeUpperCaseWithUnderscores(t *testing.T) {
	assert.Equal(t, "NOT_FOUND", MakeUpperCaseWithUnderscores("Not Found"))
	assert.Equal(t, "INTERNAL_SERVER_ERROR", MakeUpperCaseWithUnderscores("Internal Server Error"))
}
