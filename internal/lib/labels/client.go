package labels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/parcelworks/batchd/internal/config"
	"github.com/parcelworks/batchd/internal/repository"
)

// Client is the HTTP implementation of Generator against the configured
// carrier label API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *zerolog.Logger
}

// NewClient creates a label API client from config.
func NewClient(cfg *config.Config, logger *zerolog.Logger) *Client {
	return &Client{
		endpoint: cfg.Labels.Endpoint,
		apiKey:   cfg.Labels.APIKey,
		http: &http.Client{
			Timeout: cfg.Labels.RequestTimeout,
		},
		logger: logger,
	}
}

type generateRequest struct {
	ShipmentID    string `json:"shipment_id"`
	RateID        string `json:"rate_id,omitempty"`
	ShipDate      string `json:"ship_date"`
	LabelLayout   string `json:"label_layout"`
	LabelFormat   string `json:"label_format"`
	DisplayScheme string `json:"display_scheme"`
}

type generateResponse struct {
	LabelURL     string `json:"label_url"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Generate requests a label for one member pair.
//
// Carrier rejections come back as *GenerateError with the carrier's
// code; transport failures and malformed responses get generic codes so
// the caller can always record a coded outcome.
func (c *Client) Generate(ctx context.Context, member repository.MemberPair, params repository.LabelParams) (string, error) {
	payload, err := json.Marshal(generateRequest{
		ShipmentID:    member.ShipmentID,
		RateID:        member.RateID,
		ShipDate:      params.ShipDate.Format(time.RFC3339),
		LabelLayout:   params.LabelLayout,
		LabelFormat:   params.LabelFormat,
		DisplayScheme: params.DisplayScheme,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode label request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/labels", bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "failed to build label request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("shipment_id", member.ShipmentID).Msg("label request failed")
		return "", &GenerateError{
			Code:    "CARRIER_UNREACHABLE",
			Message: err.Error(),
		}
	}
	defer resp.Body.Close()

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &GenerateError{
			Code:    "CARRIER_BAD_RESPONSE",
			Message: fmt.Sprintf("undecodable carrier response (status %d)", resp.StatusCode),
		}
	}

	if resp.StatusCode != http.StatusOK || result.LabelURL == "" {
		code := result.ErrorCode
		if code == "" {
			code = fmt.Sprintf("CARRIER_HTTP_%d", resp.StatusCode)
		}
		message := result.ErrorMessage
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return "", &GenerateError{Code: code, Message: message}
	}

	return result.LabelURL, nil
}
