package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"networksurvey/uploader/internal/ingest"
	"networksurvey/uploader/internal/model"
	"networksurvey/uploader/internal/store"
	"networksurvey/uploader/internal/upload"
)

const maxScanBody = 1 << 20

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/records/counts", a.handleCounts)
	mux.HandleFunc("/api/records/cellular", a.handleScan(ingest.ChannelCellular))
	mux.HandleFunc("/api/records/wifi", a.handleScan(ingest.ChannelWifi))
	mux.HandleFunc("/api/upload", a.handleUpload)
	mux.HandleFunc("/api/upload/cancel", a.handleUploadCancel)
	mux.HandleFunc("/api/upload/status", a.handleUploadStatus)
	mux.HandleFunc("/api/export/pending", a.handleExportPending)
	mux.HandleFunc("/api/admin/wipe", a.handleWipeDatabase)
	return mux
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.scheduler == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	response := struct {
		Active           any  `json:"active"`
		OpenCelliDKeySet bool `json:"opencellid_key_set"`
		MQTTConnected    bool `json:"mqtt_connected"`
	}{
		Active:           a.cfg,
		OpenCelliDKeySet: strings.TrimSpace(a.cfg.OpenCelliD.APIKey) != "",
		MQTTConnected:    a.subscriber != nil && a.subscriber.Connected(),
	}
	a.writeJSON(w, http.StatusOK, response)
}

func (a *App) handleCounts(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	counts, err := a.store.Counts(ctx)
	if err != nil {
		a.logger.Error("failed to count records", "error", err)
		http.Error(w, "failed to count records", http.StatusInternalServerError)
		return
	}

	pending := 0
	for _, c := range counts {
		pending += c.Pending
	}

	a.writeJSON(w, http.StatusOK, struct {
		Counts  []store.TypeCounts `json:"counts"`
		Pending int                `json:"pending"`
		Parts   int                `json:"parts"`
	}{Counts: counts, Pending: pending, Parts: upload.Parts(pending, a.cfg.BatchSize)})
}

func (a *App) handleScan(channel ingest.Channel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if a.recorder == nil {
			http.Error(w, "store not initialized", http.StatusServiceUnavailable)
			return
		}

		body, err := readBody(w, r)
		if err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		device := strings.TrimSpace(r.URL.Query().Get("device"))
		stored, err := a.recorder.RecordPayload(ctx, "http", channel, device, body)
		if err != nil {
			a.logger.Warn("scan rejected", "channel", channel, "error", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		a.writeJSON(w, http.StatusOK, map[string]int{"stored": stored})
	}
}

func (a *App) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	status := "queued"
	if !a.scheduler.Trigger() {
		status = "already_queued"
	}
	a.writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

func (a *App) handleUploadCancel(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if !a.scheduler.Cancel() {
		a.writeJSON(w, http.StatusConflict, map[string]string{"status": "idle"})
		return
	}
	a.logger.Info("upload cancellation requested")
	a.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (a *App) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	runs, err := a.store.RecentUploadRuns(ctx, limit)
	if err != nil {
		a.logger.Error("failed to load upload runs", "error", err)
		http.Error(w, "failed to load upload runs", http.StatusInternalServerError)
		return
	}

	status := a.scheduler.Status()
	a.writeJSON(w, http.StatusOK, struct {
		Running  bool              `json:"running"`
		NextRun  time.Time         `json:"next_run"`
		Progress *upload.Progress  `json:"progress,omitempty"`
		Last     *upload.Report    `json:"last,omitempty"`
		Runs     []store.UploadRun `json:"runs"`
	}{
		Running:  status.Running,
		NextRun:  status.NextRun,
		Progress: a.currentProgress(),
		Last:     status.Last,
		Runs:     runs,
	})
}

// handleExportPending streams the pending cellular records in the OpenCelliD
// CSV format, for manual upload.
func (a *App) handleExportPending(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	limit := 10000
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var records []model.Record
	for _, kind := range model.UploadOrder {
		if !kind.Cellular() || len(records) >= limit {
			continue
		}
		batch, err := a.store.SelectForUpload(ctx, kind, limit-len(records))
		if err != nil {
			a.logger.Error("export: failed to load records", "type", kind, "error", err)
			http.Error(w, "failed to load records", http.StatusInternalServerError)
			return
		}
		records = append(records, batch...)
	}

	now := time.Now()
	payload, rows := upload.FormatOpenCelliDCSV(records, now)

	w.Header().Set("Content-Type", "text/csv; charset=UTF-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s_measurements_%d.csv", a.cfg.AppName, now.UnixMilli()))
	w.Header().Set("X-Record-Count", strconv.Itoa(rows))
	if _, err := w.Write(payload); err != nil {
		a.logger.Error("export: failed to write body", "error", err)
	}
}

func (a *App) handleWipeDatabase(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Confirm string `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if strings.ToLower(strings.TrimSpace(body.Confirm)) != "wipe" {
		http.Error(w, "confirmation required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.store.WipeRecords(ctx); err != nil {
		a.logger.Error("wipe: failed", "error", err)
		http.Error(w, "failed to wipe data", http.StatusInternalServerError)
		return
	}
	a.recorder.Filter().Reset()

	a.logger.Warn("wipe: all survey records cleared")
	w.WriteHeader(http.StatusNoContent)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxScanBody)
	defer r.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
