package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"lunar-bazi/backend/internal/ai"
	"lunar-bazi/backend/internal/api"
	"lunar-bazi/backend/internal/cache"
	"lunar-bazi/backend/internal/config"
	"lunar-bazi/backend/internal/convert"
	"lunar-bazi/backend/internal/store"
)

// App holds the wired components shared by the server and the CLI.
type App struct {
	Config   config.Config
	DB       *store.Database
	Service  *convert.Service
	Notifier *api.ConversionNotifier
	Registry *prometheus.Registry

	closers []func() error
}

// New opens storage, builds the converter chain and the cache.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	db, err := store.Open(cfg.DBPath, true)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	converter, err := buildConverter(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	c, err := a.buildCache(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Notifier = api.NewConversionNotifier()
	a.Service = convert.NewService(converter, c, db, a.Notifier, convert.NewMetrics(a.Registry), convert.Options{HistoryMaxAge: cfg.CacheTTL})

	logrus.WithFields(logrus.Fields{
		"provider": a.Service.ProviderName(),
		"cache":    a.Service.CacheKind(),
		"db":       cfg.DBPath,
	}).Info("conversion service ready")
	return a, nil
}

// Server builds the HTTP server around the shared components.
func (a *App) Server() (*api.Server, error) {
	return api.NewServer(api.Config{
		Service:        a.Service,
		DB:             a.DB,
		Notifier:       a.Notifier,
		Gatherer:       a.Registry,
		AllowedOrigins: a.Config.AllowedOrigins,
		Timezone:       a.Config.Timezone,
		RateLimitRPS:   a.Config.RateLimitRPS,
		RateLimitBurst: a.Config.RateLimitBurst,
	})
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts it
// down gracefully.
func (a *App) ListenAndServe(ctx context.Context) error {
	server, err := a.Server()
	if err != nil {
		return err
	}
	router, err := server.Router()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("starting lunar-bazi backend on :%s", a.Config.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// Close releases every opened resource.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func buildConverter(ctx context.Context, cfg config.Config) (ai.Converter, error) {
	httpClient := &http.Client{Timeout: cfg.AITimeout}

	var primary, fallback ai.Converter
	gemini, err := ai.NewGeminiClient(ctx, cfg.Gemini, httpClient)
	switch {
	case err == nil:
		primary = gemini
	case errors.Is(err, ai.ErrDisabled):
		logrus.Info("Gemini converter disabled - no API key configured")
	default:
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	openai, err := ai.NewClient(cfg.OpenAI)
	switch {
	case err == nil:
		fallback = openai.WithHTTPClient(httpClient)
	case errors.Is(err, ai.ErrDisabled):
		logrus.Debug("OpenAI-compatible converter disabled - no API key configured")
	default:
		return nil, fmt.Errorf("openai client: %w", err)
	}

	converter := ai.WithFallback(primary, fallback)
	if converter == nil {
		return nil, fmt.Errorf("no AI provider configured: set GEMINI_API_KEY (or API_KEY) or OPENAI_API_KEY")
	}
	return converter, nil
}

func (a *App) buildCache(ctx context.Context) (cache.Cache, error) {
	cfg := a.Config
	if cfg.CacheTTL <= 0 {
		return cache.Nop{}, nil
	}
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(cfg.CacheTTL), nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.closers = append(a.closers, client.Close)

	rc := cache.NewRedisCache(client, cfg.CacheTTL)
	if err := rc.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	logrus.WithField("addr", cfg.RedisAddr).Info("redis conversion cache enabled")
	return rc, nil
}
