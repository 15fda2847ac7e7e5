package upload

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"networksurvey/uploader/internal/model"
)

// AnonymousAPIKey is sent when anonymous OpenCelliD upload is allowed and no
// key is configured.
const AnonymousAPIKey = "anonymous"

const openCelliDUploadPath = "/measure/uploadCsv"

// OpenCelliDClient uploads cellular records as CSV to OpenCelliD.
type OpenCelliDClient struct {
	cfg       ClientConfig
	enabled   bool
	apiKey    string
	anonymous bool
}

// NewOpenCelliDClient builds a client for the OpenCelliD CSV endpoint.
func NewOpenCelliDClient(cfg ClientConfig, enabled bool, apiKey string, anonymous bool) *OpenCelliDClient {
	return &OpenCelliDClient{cfg: cfg, enabled: enabled, apiKey: strings.TrimSpace(apiKey), anonymous: anonymous}
}

func (c *OpenCelliDClient) Target() model.UploadTarget { return model.TargetOpenCelliD }

func (c *OpenCelliDClient) Enabled() bool { return c.enabled }

func (c *OpenCelliDClient) key() (string, bool) {
	if c.apiKey != "" {
		return c.apiKey, true
	}
	if c.anonymous {
		return AnonymousAPIKey, true
	}
	return "", false
}

// Upload formats the cellular records as CSV and submits them.
func (c *OpenCelliDClient) Upload(ctx context.Context, records []model.Record) (result RequestResult) {
	log := c.cfg.logger()
	defer guard(log, c.Target(), &result)

	payload, rows := FormatOpenCelliDCSV(records, c.cfg.now())
	if rows == 0 {
		return RequestSuccess
	}
	return c.Submit(ctx, payload)
}

// Submit posts an already formatted CSV payload.
func (c *OpenCelliDClient) Submit(ctx context.Context, csv []byte) RequestResult {
	log := c.cfg.logger()

	key, ok := c.key()
	if !ok {
		log.Warn("opencellid upload skipped: no api key and anonymous upload disabled")
		return RequestInvalidAPIKey
	}

	body, contentType, err := c.multipartBody(key, csv)
	if err != nil {
		log.Error("build opencellid request", "error", err)
		return RequestFailure
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+openCelliDUploadPath, body)
	if err != nil {
		log.Error("build opencellid request", "error", err)
		return RequestFailure
	}
	req.Header.Set("Content-Type", contentType)

	code, respBody, err := c.cfg.exchange(req)
	if err != nil {
		log.Warn("opencellid upload failed", "error", err)
		return RequestConnectionError
	}

	result := ClassifyOpenCelliD(code, string(respBody))
	log.Info("opencellid upload finished", "status", code, "result", result, "bytes", len(csv))
	return result
}

func (c *OpenCelliDClient) multipartBody(key string, csv []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("key", key); err != nil {
		return nil, "", fmt.Errorf("write key field: %w", err)
	}
	if err := w.WriteField("appId", c.cfg.AppName+" "+c.cfg.AppVersion); err != nil {
		return nil, "", fmt.Errorf("write appId field: %w", err)
	}

	filename := fmt.Sprintf("%s_measurements_%d.csv", c.cfg.AppName, c.cfg.now().UnixMilli())
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="datafile"; filename="%s"`, filename))
	header.Set("Content-Type", "text/csv; charset=UTF-8")

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create datafile part: %w", err)
	}
	if _, err := part.Write(csv); err != nil {
		return nil, "", fmt.Errorf("write datafile: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// ClassifyOpenCelliD maps an OpenCelliD response to a RequestResult. The
// service answers 200 with body "0,OK" on success.
func ClassifyOpenCelliD(code int, body string) RequestResult {
	switch {
	case code == http.StatusOK && strings.EqualFold(strings.TrimSpace(body), "0,OK"):
		return RequestSuccess
	case code >= 500 && code <= 599:
		return RequestServerError
	case code == http.StatusUnauthorized, code == http.StatusForbidden,
		strings.Contains(strings.ToLower(body), "invalid token"):
		return RequestInvalidAPIKey
	case code == http.StatusBadRequest:
		return RequestConfigurationError
	default:
		return RequestConnectionError
	}
}
