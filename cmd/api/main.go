package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ovaphlow/pitchfork/service-rental-go/internal/camera"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/maintenance"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/nfc"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/rental"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-rental-go/internal/store"
	"github.com/ovaphlow/pitchfork/service-rental-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	_ = godotenv.Load()
	cfg := config.Load()

	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-rental-go", "debug", cfg.Debug)

	node, err := utilities.NewSnowflakeNode(cfg.SnowflakeNode)
	if err != nil {
		sugar.Fatalf("id generator: %v", err)
	}

	// the station can't work without its store
	st := store.New(sugar, node)
	if err := st.Open(cfg.Database); err != nil {
		sugar.Fatalf("store open: %v", err)
	}
	defer st.Close()
	if err := st.EnsureSchema(context.Background()); err != nil {
		sugar.Fatalf("store schema: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var resolver identity.Resolver
	var cam rental.Camera
	if cfg.Debug {
		resolver = nfc.NewFileResolver(cfg.NFCDebugFile, sugar)
		dc, err := camera.NewDebugCamera(cfg.CameraDebugDir, 30)
		if err != nil {
			sugar.Fatalf("debug camera: %v", err)
		}
		cam = dc
	} else {
		res := nfc.NewResolver(nfc.Config{
			CacheDuration: cfg.NFCCacheDuration,
			ScanTimeout:   cfg.NFCScanTimeout,
			PollInterval:  cfg.NFCPollInterval,
		}, sugar)
		fc := camera.NewFrameCamera(cfg.CameraTimeout, sugar)
		if tagReader != nil {
			go res.Watch(ctx, tagReader, time.Second)
		} else {
			sugar.Warnw("no nfc reader attached, badges will not resolve")
		}
		if frameSource != nil {
			go fc.Feed(ctx, frameSource, time.Second)
		} else {
			sugar.Warnw("no camera attached, checkouts will fail")
		}
		resolver = res
		cam = fc
	}

	job := maintenance.NewJob(st, maintenance.Config{
		BackupDir:              cfg.BackupDir,
		BackupFilenameTemplate: cfg.BackupFilenameTemplate,
		LogDir:                 cfg.Log.Dir,
		LogFilenameTemplate:    cfg.Log.FilenameTemplate,
		DateFormat:             cfg.DateFormat,
		KeepBackupsDays:        cfg.KeepBackupsDays,
		KeepLogsDays:           cfg.KeepLogsDays,
		InactivityLimitDays:    cfg.InactivityLimitDays,
	}, m, sugar)
	plan, err := maintenance.NewPlanner(cfg.Debug, cfg.MaintenanceFireSpec)
	if err != nil {
		sugar.Fatalf("maintenance schedule: %v", err)
	}
	scheduler := maintenance.NewScheduler(job, plan, cfg.SchedulerStopTimeout, sugar)
	scheduler.Start()
	defer scheduler.Stop()

	hashKey, blockKey, err := utilities.SessionKeys([]byte(cfg.SessionSecret))
	if err != nil {
		sugar.Fatalf("session keys: %v", err)
	}
	if cfg.SessionSecret == "" {
		sugar.Warnw("SESSION_SECRET not set, sessions will not survive a restart")
	}
	sessionStore := sessions.NewCookieStore(hashKey, blockKey)
	sessionStore.Options.HttpOnly = true
	sessionStore.Options.SameSite = http.SameSiteStrictMode

	svc := rental.NewService(st, cam, m, sugar, cfg.UserTemplate)
	handler := router.RegisterRoutes(sugar,
		rental.NewHandler(svc, sessionStore, resolver, sugar),
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.HTTPAddr)

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
