// Command heroworker runs the asset cache worker and hero state coordinator
// as a caching front for a static site.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/plainlicense/herokit/cachestore"
	"github.com/plainlicense/herokit/dbopen"
	"github.com/plainlicense/herokit/herostate"
	"github.com/plainlicense/herokit/manifest"
	"github.com/plainlicense/herokit/observability"
	"github.com/plainlicense/herokit/revalidate"
	"github.com/plainlicense/herokit/shield"
	"github.com/plainlicense/herokit/worker"
)

func main() {
	cfg, err := loadConfig(env("CONFIG_FILE", ""))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	site, err := url.Parse(cfg.Site)
	if err != nil {
		slog.Error("site url", "error", err)
		os.Exit(1)
	}

	// Cache DB: entries plus the revalidation queue share one file.
	cacheDB, err := dbopen.Open(cfg.CacheDB,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(cachestore.Schema),
		dbopen.WithSchema(revalidate.Schema),
	)
	if err != nil {
		slog.Error("cache db", "error", err)
		os.Exit(1)
	}
	defer cacheDB.Close()

	// Events DB kept separate so observability writes never contend with the
	// serving path.
	eventsDB, err := dbopen.Open(cfg.EventsDB,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(observability.Schema),
	)
	if err != nil {
		slog.Error("events db", "error", err)
		os.Exit(1)
	}
	defer eventsDB.Close()

	events := observability.NewEventLog(eventsDB)
	if cfg.EventRetentionDays > 0 {
		if err := observability.Cleanup(ctx, eventsDB, cfg.EventRetentionDays); err != nil {
			slog.Warn("event cleanup", "error", err)
		}
	}

	man, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		slog.Error("manifest", "path", cfg.ManifestPath, "error", err)
		os.Exit(1)
	}

	store := cachestore.New(cacheDB)
	up := worker.NewUpstream(site, worker.WithUpstreamLogger(logger))

	queue := revalidate.New(cacheDB, revalidate.Options{
		Visibility:   cfg.Revalidate.Visibility,
		PollInterval: cfg.Revalidate.PollInterval,
		MaxAttempts:  cfg.Revalidate.MaxAttempts,
		Logger:       logger,
	})

	mgr, err := worker.NewManager(worker.Config{
		Manifest:     man,
		DiscoverHTML: true,
		Events:       events,
		Logger:       logger,
	}, store, up, queue)
	if err != nil {
		slog.Error("manager", "error", err)
		os.Exit(1)
	}

	// Boot lifecycle: precache then adopt the new generation. A failed
	// install leaves any previous generation's entries serving.
	if err := mgr.Install(ctx); err != nil {
		slog.Error("install", "error", err)
		os.Exit(1)
	}
	if err := mgr.Activate(ctx); err != nil {
		slog.Error("activate", "error", err)
		os.Exit(1)
	}

	go queue.Run(ctx, mgr.Refresh)

	// Hero state coordinator.
	heroStore, err := herostate.New(herostate.Config{
		Site:             site,
		LeaveGrace:       cfg.Hero.LeaveGrace,
		ViewportDebounce: cfg.Hero.ViewportDebounce,
		Logger:           logger,
	})
	if err != nil {
		slog.Error("hero store", "error", err)
		os.Exit(1)
	}
	defer heroStore.Close()
	gates := herostate.NewGates(heroStore)
	defer gates.Close()
	heroAPI := herostate.NewAPI(heroStore, gates)

	// Admin credentials.
	var adminHash []byte
	if cfg.AdminUser != "" {
		if cfg.AdminPassword == "" {
			slog.Error("admin_user set without admin_password")
			os.Exit(1)
		}
		adminHash, err = bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			slog.Error("admin password hash", "error", err)
			os.Exit(1)
		}
	}

	var limiter *shield.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = shield.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow)
	}

	handler := worker.NewRouter(mgr, worker.RouterConfig{
		AdminUser:         cfg.AdminUser,
		AdminPasswordHash: adminHash,
		Hero:              heroAPI,
		RateLimit:         limiter,
		Logger:            logger,
	})

	// Optional MCP stdio transport for the admin tools.
	if cfg.MCPTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "heroworker",
			Version: "1.0.0",
		}, nil)
		mgr.RegisterMCP(mcpSrv, heroStore)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("mcp stdio", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("heroworker starting", "port", cfg.Port, "site", site.String(), "cache", mgr.CacheName())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("heroworker stopped")
}

// buildLogger honors dev mode first, then the configured level for the
// production JSON handler.
func buildLogger(cfg *Config) *slog.Logger {
	if cfg.Dev {
		return observability.NewLogger(true)
	}
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
