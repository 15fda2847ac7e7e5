package upload

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"networksurvey/uploader/internal/model"
)

const beaconDBGeosubmitPath = "/v2/geosubmit"

// BeaconDBClient uploads cellular and Wi-Fi records to a geosubmit v2 endpoint.
type BeaconDBClient struct {
	cfg     ClientConfig
	enabled bool
}

func NewBeaconDBClient(cfg ClientConfig, enabled bool) *BeaconDBClient {
	return &BeaconDBClient{cfg: cfg, enabled: enabled}
}

func (c *BeaconDBClient) Target() model.UploadTarget { return model.TargetBeaconDB }

func (c *BeaconDBClient) Enabled() bool { return c.enabled }

func (c *BeaconDBClient) Upload(ctx context.Context, records []model.Record) (result RequestResult) {
	log := c.cfg.logger()
	defer guard(log, c.Target(), &result)

	payload, items, err := FormatGeosubmit(records, c.cfg.now())
	if err != nil {
		log.Error("format geosubmit", "error", err)
		return RequestFailure
	}
	if items == 0 {
		return RequestSuccess
	}
	return c.Submit(ctx, payload)
}

// Submit posts an already encoded geosubmit body.
func (c *BeaconDBClient) Submit(ctx context.Context, body []byte) RequestResult {
	log := c.cfg.logger()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+beaconDBGeosubmitPath, bytes.NewReader(body))
	if err != nil {
		log.Error("build beacondb request", "error", err)
		return RequestFailure
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	code, _, err := c.cfg.exchange(req)
	if err != nil {
		log.Warn("beacondb upload failed", "error", err)
		return RequestConnectionError
	}

	result := ClassifyBeaconDB(code)
	log.Info("beacondb upload finished", "status", code, "result", result, "bytes", len(body))
	return result
}

// ClassifyBeaconDB maps a geosubmit response status to a RequestResult.
func ClassifyBeaconDB(code int) RequestResult {
	switch {
	case code >= 200 && code <= 299:
		return RequestSuccess
	case code >= 500 && code <= 599:
		return RequestServerError
	case code == http.StatusBadRequest:
		return RequestConfigurationError
	case code == http.StatusForbidden:
		return RequestLimitExceeded
	default:
		return RequestConnectionError
	}
}
