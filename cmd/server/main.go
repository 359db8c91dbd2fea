package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"quotegate/internal/api"
	"quotegate/internal/app"
	"quotegate/internal/config"
	"quotegate/internal/telemetry"
	"quotegate/internal/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	shutdownTelemetry := telemetry.Setup(cfg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer a.Close()
	if err := a.BootstrapAdmin(ctx); err != nil {
		log.Fatalf("%v", err)
	}

	renderer, err := web.NewRenderer()
	if err != nil {
		log.Fatalf("templates: %v", err)
	}
	r := api.NewRouter(cfg, api.Deps{
		Identity: a.Identity,
		Docs:     a.Docs,
		Local:    a.Local,
		Renderer: renderer,
		SQL:      a.Store,
	})

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.Identity.CleanupFailures(ctx); err != nil {
					log.Printf("login_failure_cleanup_failed err=%v", err)
				}
			}
		}
	}()

	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           otelhttp.NewHandler(r, cfg.ServiceName),
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hsrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server: %v", err)
	}
}
