// Package labels provides the label-generation collaborator.
//
// Label generation is an external carrier API: given a shipment/rate
// pair and job parameters it either returns a label reference or fails
// with a carrier error code. The collaborator is unreliable by contract;
// callers treat every failure as a per-pair outcome, never as a reason
// to abort a whole job.
package labels

import (
	"context"

	"github.com/parcelworks/batchd/internal/repository"
)

// Generator produces a shipping label for one member pair.
//
// On success it returns the label reference (a URL). On failure it
// returns a *GenerateError carrying a machine-readable code.
type Generator interface {
	Generate(ctx context.Context, member repository.MemberPair, params repository.LabelParams) (string, error)
}

// GenerateError is a label generation failure with a carrier error code.
type GenerateError struct {
	Code    string
	Message string
}

func (e *GenerateError) Error() string {
	return e.Message
}

// ErrorCode extracts the carrier code from err, or falls back to a
// generic code when err is not a *GenerateError (timeouts, transport
// failures, and other conditions the carrier never labeled).
func ErrorCode(err error) string {
	if genErr, ok := err.(*GenerateError); ok && genErr.Code != "" {
		return genErr.Code
	}
	return "LABEL_GENERATION_FAILED"
}
