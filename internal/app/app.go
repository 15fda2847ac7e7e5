package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"networksurvey/uploader/internal/config"
	"networksurvey/uploader/internal/dedup"
	"networksurvey/uploader/internal/ingest"
	"networksurvey/uploader/internal/metrics"
	"networksurvey/uploader/internal/model"
	"networksurvey/uploader/internal/scheduler"
	"networksurvey/uploader/internal/store"
	"networksurvey/uploader/internal/upload"
)

// App wires together the uploader services and manages their lifecycle.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	store      *store.Store
	metrics    *metrics.Metrics
	recorder   *ingest.Recorder
	subscriber *ingest.Subscriber
	pipeline   *upload.Pipeline
	scheduler  *scheduler.Scheduler
	mdns       *zeroconf.Server

	progressMu sync.Mutex
	progress   *upload.Progress
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// setup opens the store and builds every service that does not listen on
// the network.
func (a *App) setup(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	if err := db.InitSchema(ctx); err != nil {
		_ = db.Close()
		return err
	}
	a.store = db
	a.metrics = metrics.New()

	filter := dedup.NewFilter(dedup.Thresholds{
		DistanceMeters: a.cfg.DistanceThresholdMeters,
		AccuracyMeters: a.cfg.AccuracyThresholdMeters,
	})
	a.recorder = ingest.NewRecorder(filter, a.store, a.metrics, a.logger.With("component", "ingest"))

	clientCfg := func(baseURL string, component string) upload.ClientConfig {
		return upload.ClientConfig{
			BaseURL:    baseURL,
			AppName:    a.cfg.AppName,
			AppVersion: a.cfg.AppVersion,
			HTTPClient: &http.Client{Timeout: a.cfg.HTTPTimeout},
			Logger:     a.logger.With("component", component),
		}
	}
	clients := []upload.Client{
		upload.NewOpenCelliDClient(clientCfg(a.cfg.OpenCelliD.BaseURL, "opencellid"),
			a.cfg.OpenCelliD.Enabled, a.cfg.OpenCelliD.APIKey, a.cfg.OpenCelliD.Anonymous),
		upload.NewBeaconDBClient(clientCfg(a.cfg.BeaconDB.BaseURL, "beacondb"), a.cfg.BeaconDB.Enabled),
	}

	pipeline, err := upload.NewPipeline(a.store, clients, upload.Options{
		BatchSize:    a.cfg.BatchSize,
		RetryEnabled: a.cfg.RetryEnabled,
		Progress:     a.setProgress,
		Observer:     a.metrics,
		Logger:       a.logger.With("component", "upload"),
	})
	if err != nil {
		return err
	}
	a.pipeline = pipeline

	a.scheduler = scheduler.New(a.pipeline, a.store, scheduler.Options{
		Interval: a.cfg.UploadInterval,
		OnReport: a.handleReport,
		Logger:   a.logger.With("component", "scheduler"),
	})
	return nil
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	if err := a.setup(ctx); err != nil {
		return err
	}

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	if a.cfg.MQTTBroker != "" {
		a.subscriber = ingest.NewSubscriber(ingest.SubscriberOptions{
			Broker:      a.cfg.MQTTBroker,
			ClientID:    a.cfg.MQTTClientID,
			TopicPrefix: a.cfg.MQTTTopicPrefix,
		}, a.recorder, a.logger.With("component", "mqtt"))
		a.subscriber.Start(ctx)
		defer a.subscriber.Stop()
	}

	schedCtx, stopScheduler := context.WithCancel(ctx)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = a.scheduler.Run(schedCtx)
	}()
	defer func() {
		stopScheduler()
		<-schedDone
		a.logger.Info("upload scheduler stopped")
	}()

	errCh := make(chan error, 2)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsServer *http.Server
	if a.cfg.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("metrics server started", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(a.cfg.HTTPPort); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
		defer a.stopMDNS()
	}

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}
		a.logger.Info("http servers stopped")
		return errors.Join(errs...)
	}

	select {
	case <-ctx.Done():
		return shutdown()
	case err := <-errCh:
		_ = shutdown()
		return err
	}
}

func (a *App) setProgress(p upload.Progress) {
	a.logger.Info("upload progress", "run", p.RunID, "part", p.Part, "parts", p.Parts)
	a.progressMu.Lock()
	a.progress = &p
	a.progressMu.Unlock()
}

func (a *App) currentProgress() *upload.Progress {
	a.progressMu.Lock()
	defer a.progressMu.Unlock()
	return a.progress
}

func (a *App) handleReport(report upload.Report) {
	a.progressMu.Lock()
	a.progress = nil
	a.progressMu.Unlock()

	for _, target := range model.Targets() {
		msg := report.Messages[target.String()]
		if report.Outcome != upload.OutcomeSuccess {
			a.logger.Warn("upload result", "target", target, "result", msg.Result, "message", msg.Message, "description", msg.Description)
		}
	}

	if a.subscriber != nil && a.subscriber.Connected() {
		if err := a.subscriber.PublishStatus(report); err != nil {
			a.logger.Warn("failed to publish upload status", "error", err)
		}
	}
}
