package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	connectcors "connectrpc.com/cors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/handler"
)

const shutdownTimeout = 15 * time.Second

// NewRouter builds the HTTP surface: health, metrics, the ingestion REST API and its Connect service
func (d *Dependencies) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.healthz)
	if d.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		srv := d.Config.Server
		if srv.RateLimitPerSecond > 0 {
			r.Use(handler.RateLimit(rate.NewLimiter(rate.Limit(srv.RateLimitPerSecond), srv.RateLimitBurst)))
		}
		r.Mount("/api/v1/ingestion", d.IngestionHandler.Routes())
		if d.IngestionRPC != nil {
			path, h := d.IngestionRPC.Handler()
			r.Mount(path, h)
		}
	})

	return cors.New(cors.Options{
		AllowedOrigins:   d.Config.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   append(connectcors.AllowedMethods(), "PUT", "OPTIONS"),
		AllowedHeaders:   append(connectcors.AllowedHeaders(), "Authorization"),
		ExposedHeaders:   connectcors.ExposedHeaders(),
	}).Handler(r)
}

func (d *Dependencies) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := d.DB.Pool.Ping(ctx); err != nil {
		d.Logger.Warn("health check failed", slog.Any("error", err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (d *Dependencies) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", d.Config.Server.Host, d.Config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           d.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	if err := d.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		d.Logger.Info("http server listening", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	d.Logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
