package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/batchd/internal/errs"
)

var validate = validator.New()

type testRequest struct {
	BatchID     string   `param:"batch_id" validate:"required"`
	ShipmentIDs []string `json:"shipment_ids" validate:"required,min=1,dive,required"`
}

func (r *testRequest) Validate() error {
	return validate.Struct(r)
}

func newContext(t *testing.T, body string) echo.Context {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/batches/batch-1/shipments", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("batch_id")
	c.SetParamValues("batch-1")
	return c
}

func TestBindAndValidateSuccess(t *testing.T) {
	c := newContext(t, `{"shipment_ids": ["s1", "s2"]}`)

	payload := &testRequest{}
	require.NoError(t, BindAndValidate(c, payload))

	assert.Equal(t, "batch-1", payload.BatchID)
	assert.Equal(t, []string{"s1", "s2"}, payload.ShipmentIDs)
}

func TestBindAndValidateMissingField(t *testing.T) {
	c := newContext(t, `{}`)

	err := BindAndValidate(c, &testRequest{})
	require.Error(t, err)

	var httpErr *errs.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	require.Len(t, httpErr.Errors, 1)
	assert.Equal(t, "shipmentids", httpErr.Errors[0].Field)
	assert.Equal(t, "is required", httpErr.Errors[0].Error)
}

func TestBindAndValidateEmptyListItem(t *testing.T) {
	c := newContext(t, `{"shipment_ids": [""]}`)

	err := BindAndValidate(c, &testRequest{})
	require.Error(t, err)

	var httpErr *errs.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.NotEmpty(t, httpErr.Errors)
}

func TestBindAndValidateMalformedBody(t *testing.T) {
	c := newContext(t, `{"shipment_ids": [`)

	err := BindAndValidate(c, &testRequest{})
	require.Error(t, err)

	var httpErr *errs.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
}

func TestCustomValidationErrors(t *testing.T) {
	custom := CustomValidationErrors{
		{Field: "rate_ids", Message: "must not be longer than shipment_ids"},
	}

	msg, fieldErrors := extractValidationError(custom)
	assert.Equal(t, "Validation failed", msg)
	require.Len(t, fieldErrors, 1)
	assert.Equal(t, "rate_ids", fieldErrors[0].Field)
}
