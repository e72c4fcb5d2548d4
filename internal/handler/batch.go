package handler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/parcelworks/batchd/internal/errs"
	"github.com/parcelworks/batchd/internal/middleware"
	"github.com/parcelworks/batchd/internal/repository"
	"github.com/parcelworks/batchd/internal/server"
	"github.com/parcelworks/batchd/internal/service"
)

// validate is the shared validator instance for request payloads.
var validate = validator.New()

// shipDateLayout is the wire format for label ship dates.
const shipDateLayout = "2006-01-02"

// BatchHandler serves the batch endpoints: member mutation, reads,
// deletion, label processing, and error listing.
type BatchHandler struct {
	Handler

	batchService *service.BatchService
}

// NewBatchHandler constructs a BatchHandler.
func NewBatchHandler(s *server.Server, batchService *service.BatchService) *BatchHandler {
	return &BatchHandler{
		Handler:      NewHandler(s),
		batchService: batchService,
	}
}

// --- Requests ---------------------------------------------------------------

// MutateMembersRequest is the payload for adding or removing member
// pairs. rate_ids pair positionally with shipment_ids; a shorter or
// absent rate list means the trailing shipments carry no rate.
type MutateMembersRequest struct {
	BatchID     string   `param:"batch_id" validate:"required"`
	ShipmentIDs []string `json:"shipment_ids" validate:"required,min=1,dive,required"`
	RateIDs     []string `json:"rate_ids" validate:"omitempty,dive"`
}

func (r *MutateMembersRequest) Validate() error {
	return validate.Struct(r)
}

// BatchRequest addresses a single batch by its external identifier.
type BatchRequest struct {
	BatchID string `param:"batch_id" validate:"required"`
}

func (r *BatchRequest) Validate() error {
	return validate.Struct(r)
}

// ProcessLabelsRequest is the payload for submitting a batch for label
// processing.
type ProcessLabelsRequest struct {
	BatchID       string `param:"batch_id" validate:"required"`
	ShipDate      string `json:"ship_date" validate:"required,datetime=2006-01-02"`
	LabelLayout   string `json:"label_layout" validate:"omitempty,oneof=4x6 letter"`
	LabelFormat   string `json:"label_format" validate:"omitempty,oneof=pdf png zpl"`
	DisplayScheme string `json:"display_scheme" validate:"omitempty,oneof=label qr_code"`
}

func (r *ProcessLabelsRequest) Validate() error {
	return validate.Struct(r)
}

// ListErrorsRequest is the query for one page of a batch's errors.
// Page and PageSize fall back to config defaults when omitted.
type ListErrorsRequest struct {
	BatchID  string `param:"batch_id" validate:"required"`
	Page     int    `query:"page" validate:"omitempty,min=1"`
	PageSize int    `query:"pagesize" validate:"omitempty,min=1"`
}

func (r *ListErrorsRequest) Validate() error {
	return validate.Struct(r)
}

// --- Responses --------------------------------------------------------------

// EnqueuedJobResponse acknowledges an accepted label-processing request.
type EnqueuedJobResponse struct {
	JobID   string `json:"job_id"`
	BatchID string `json:"batch_id"`
	Status  string `json:"status"`
}

// --- Endpoints --------------------------------------------------------------

// AddMembers adds shipment/rate pairs to the batch, creating it on
// first touch. Re-adding a pair already present is a no-op.
func (h *BatchHandler) AddMembers(c echo.Context, req *MutateMembersRequest) (*repository.Batch, error) {
	return h.batchService.Add(c.Request().Context(), req.BatchID, middleware.GetUserID(c), req.ShipmentIDs, req.RateIDs)
}

// RemoveMembers removes shipment/rate pairs from the batch. A pair with
// an empty rate removes the shipment regardless of its stored rate.
func (h *BatchHandler) RemoveMembers(c echo.Context, req *MutateMembersRequest) (*repository.Batch, error) {
	return h.batchService.Remove(c.Request().Context(), req.BatchID, req.ShipmentIDs, req.RateIDs)
}

// GetBatch returns the batch with its member count.
func (h *BatchHandler) GetBatch(c echo.Context, req *BatchRequest) (*repository.Batch, error) {
	return h.batchService.Get(c.Request().Context(), req.BatchID)
}

// DeleteBatch removes the batch with its members and errors.
func (h *BatchHandler) DeleteBatch(c echo.Context, req *BatchRequest) error {
	return h.batchService.Delete(c.Request().Context(), req.BatchID)
}

// ProcessLabels enqueues label generation for the batch and returns 202
// with the job identifier. The batch must exist and be open; the worker
// re-checks the state transition atomically when the job runs.
func (h *BatchHandler) ProcessLabels(c echo.Context, req *ProcessLabelsRequest) (*EnqueuedJobResponse, error) {
	ctx := c.Request().Context()

	batch, err := h.batchService.Get(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}

	switch batch.Status {
	case repository.StatusProcessing:
		return nil, errs.NewConflictError("Batch is already being processed")
	case repository.StatusOpen:
		// Submittable.
	default:
		return nil, errs.NewInvalidStateError("Batch is not open for processing")
	}

	shipDate, err := time.Parse(shipDateLayout, req.ShipDate)
	if err != nil {
		return nil, errs.NewInvalidArgumentError("ship_date must be a valid date", []errs.FieldError{
			{Field: "ship_date", Error: "must be a date in " + shipDateLayout + " format"},
		})
	}

	params := repository.LabelParams{
		ShipDate:      shipDate,
		LabelLayout:   req.LabelLayout,
		LabelFormat:   req.LabelFormat,
		DisplayScheme: req.DisplayScheme,
	}

	jobID, err := h.server.Job.EnqueueLabelProcessing(ctx, req.BatchID, params)
	if err != nil {
		return nil, err
	}

	return &EnqueuedJobResponse{
		JobID:   jobID,
		BatchID: req.BatchID,
		Status:  string(service.JobPending),
	}, nil
}

// ListErrors returns one page of the batch's recorded errors, newest
// pagination fields included. Totals are computed at query time and may
// lag concurrent appends.
func (h *BatchHandler) ListErrors(c echo.Context, req *ListErrorsRequest) (*service.ErrorPage, error) {
	page := req.Page
	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = h.server.Config.Cache.DefaultPageSize
	}
	if page == 0 {
		page = 1
	}

	return h.batchService.PaginateErrors(c.Request().Context(), req.BatchID, page, pageSize)
}
