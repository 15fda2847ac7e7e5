package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"networksurvey/uploader/internal/model"
)

var errTransport = errors.New("transport error")

// Client ships one sub-batch of records to a single upload target.
type Client interface {
	Target() model.UploadTarget
	Enabled() bool
	// Upload formats records for the target and sends them. Network problems
	// are reported through the returned RequestResult, never as a panic.
	Upload(ctx context.Context, records []model.Record) RequestResult
}

// ClientConfig carries the settings shared by both upload clients.
type ClientConfig struct {
	BaseURL    string
	AppName    string
	AppVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c ClientConfig) userAgent() string {
	return c.AppName + "/" + c.AppVersion
}

func (c ClientConfig) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 60 * time.Second}
}

func (c ClientConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c ClientConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// exchange performs req and returns the status code and body. A transport
// failure or an unreadable body is reported as errTransport.
func (c ClientConfig) exchange(req *http.Request) (int, []byte, error) {
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", errTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read body: %v", errTransport, err)
	}
	return resp.StatusCode, body, nil
}

// guard turns a panic inside an upload into RequestFailure.
func guard(logger *slog.Logger, target model.UploadTarget, result *RequestResult) {
	if rec := recover(); rec != nil {
		logger.Error("upload panicked", "target", target, "panic", rec)
		*result = RequestFailure
	}
}
