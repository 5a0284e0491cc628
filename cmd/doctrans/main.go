package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/doctrans/internal/artifact"
	"github.com/MimeLyc/doctrans/internal/config"
	"github.com/MimeLyc/doctrans/internal/extraction"
	"github.com/MimeLyc/doctrans/internal/httpapi"
	"github.com/MimeLyc/doctrans/internal/persistence"
	"github.com/MimeLyc/doctrans/internal/rasterizer"
	"github.com/MimeLyc/doctrans/internal/retry"
	"github.com/MimeLyc/doctrans/internal/service"
	"github.com/MimeLyc/doctrans/internal/store"
	"github.com/MimeLyc/doctrans/internal/translation"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// scheduler prepares background work before the service starts serving:
// startup recovery plus the periodic stale sweep registration.
type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	settingsPath := config.RuntimeSettingsFilePath()
	var opts []config.Option
	if saved, err := config.LoadRuntimeSettingsFile(settingsPath); err == nil {
		opts = append(opts, config.WithRuntimeSettings(saved))
	}

	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		stdlog.Fatal("Failed to load configuration: ", err)
	}
	log.InitLogger(log.ParseLevel(cfg.System.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, settings, cleanup, err := buildService(ctx, cfg, settingsPath)
	if err != nil {
		log.Fatal("Failed to build service: %v", err)
	}
	defer cleanup()

	httpSrv := httpapi.NewServer(svc,
		httpapi.WithMaxUploadSize(cfg.HTTP.MaxUploadSize),
		httpapi.WithSweepSchedule(cfg.Dispatch.SweepCron),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
	)

	cronEng := cron.New()
	if err := runWithComponents(ctx, cfg, &pipelineScheduler{svc: svc, cron: cronEng}, cronEng, httpSrv); err != nil {
		log.Fatal("Service exited: %v", err)
	}
}

// buildService wires the persistence, storage and engine layers into the
// service facade. The returned cleanup stops the dispatcher and closes the
// snapshot backend.
func buildService(ctx context.Context, cfg *config.Config, settingsPath string) (*service.Service, *config.RuntimeSettingsStore, func(), error) {
	var snap persistence.Snapshotter
	var closeSnap func() error
	switch cfg.Storage.DBBackend {
	case "json":
		fs, err := persistence.NewFileStore(cfg.SnapshotPath())
		if err != nil {
			return nil, nil, nil, err
		}
		snap, closeSnap = fs, fs.Close
	default:
		ss, err := persistence.NewSQLiteStore(cfg.DBPath())
		if err != nil {
			return nil, nil, nil, err
		}
		snap, closeSnap = ss, ss.Close
	}

	st, err := store.New(ctx, snap)
	if err != nil {
		_ = closeSnap()
		return nil, nil, nil, err
	}

	var artifacts artifact.Store
	if cfg.Storage.ArtifactBackend == "s3" {
		artifacts, err = artifact.NewS3Store(ctx, artifact.S3Config{
			Endpoint:  cfg.Storage.S3Endpoint,
			Region:    cfg.Storage.S3Region,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			Bucket:    cfg.Storage.S3Bucket,
		})
	} else {
		artifacts, err = artifact.NewLocalStore(cfg.ArtifactDir())
	}
	if err != nil {
		_ = closeSnap()
		return nil, nil, nil, err
	}

	ocrEngine, err := extraction.NewGeminiEngine(extraction.Config{
		APIKey:  cfg.Extraction.Engine.APIKey,
		APIURL:  cfg.Extraction.Engine.APIURL,
		Model:   cfg.Extraction.Engine.Model,
		Timeout: cfg.Extraction.Engine.Timeout,
	})
	if err != nil {
		_ = closeSnap()
		return nil, nil, nil, err
	}

	registry := translation.NewRegistry()
	if cfg.Translation.Claude.APIKey != "" {
		claude, err := translation.NewClaudeEngine(translation.Config{
			APIKey:    cfg.Translation.Claude.APIKey,
			APIURL:    cfg.Translation.Claude.APIURL,
			Model:     cfg.Translation.Claude.Model,
			Timeout:   cfg.Translation.Claude.Timeout,
			MaxTokens: cfg.Translation.MaxTokens,
		})
		if err != nil {
			_ = closeSnap()
			return nil, nil, nil, err
		}
		if err := registry.Register(claude); err != nil {
			_ = closeSnap()
			return nil, nil, nil, err
		}
	}
	if cfg.Translation.Gemini.APIKey != "" {
		gemini, err := translation.NewGeminiEngine(translation.Config{
			APIKey:    cfg.Translation.Gemini.APIKey,
			APIURL:    cfg.Translation.Gemini.APIURL,
			Model:     cfg.Translation.Gemini.Model,
			Timeout:   cfg.Translation.Gemini.Timeout,
			MaxTokens: cfg.Translation.MaxTokens,
		})
		if err != nil {
			_ = closeSnap()
			return nil, nil, nil, err
		}
		if err := registry.Register(gemini); err != nil {
			_ = closeSnap()
			return nil, nil, nil, err
		}
	}
	if len(registry.List()) == 0 {
		log.Warn("No translation engine configured, translation requests will be rejected")
	}

	policy := retry.NewPolicy(cfg.Retry.MaxRetries, cfg.Retry.BaseDelay, cfg.Retry.Factor, cfg.Retry.MaxDelay)
	raster := rasterizer.NewPDFRasterizer()
	extractor := extraction.NewOrchestrator(st, artifacts, raster, ocrEngine, policy, cfg.Extraction.PageConcurrency)
	translator := translation.NewOrchestrator(st, artifacts, registry, policy, cfg.Translation.ChunkChars)

	dispatcher := service.NewDispatcher(cfg.Dispatch.Workers, 0)
	dispatcher.Start()

	svc := service.New(cfg, st, artifacts, raster, extractor, translator, registry, dispatcher)

	settings, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		dispatcher.Stop()
		_ = closeSnap()
		return nil, nil, nil, err
	}

	cleanup := func() {
		dispatcher.Stop()
		if err := closeSnap(); err != nil {
			log.Warn("Failed to close snapshot store: %v", err)
		}
	}
	return svc, settings, cleanup, nil
}

// pipelineScheduler adapts the service to the scheduler seam used in tests:
// startup recovery first, then the periodic stale sweep registration.
type pipelineScheduler struct {
	svc  *service.Service
	cron *cron.Cron
}

func (p *pipelineScheduler) Schedule(ctx context.Context) error {
	if err := p.svc.RecoverOnStartup(ctx); err != nil {
		return err
	}
	return p.svc.ScheduleSweeps(p.cron)
}

// runWithComponents runs the background scheduler, cron engine and HTTP
// server until the context is cancelled or the server fails, then shuts
// everything down in reverse order.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, cronEng cronEngine, httpSrv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return err
	}
	cronEng.Start()

	errCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe(cfg.HTTP.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	log.Info("doctrans listening on %s", cfg.HTTP.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown: %v", err)
		}
		<-cronEng.Stop().Done()
		return <-errCh
	case err := <-errCh:
		<-cronEng.Stop().Done()
		return err
	}
}
