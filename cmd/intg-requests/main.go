package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/config"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/dispatch"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/driver"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/hdp"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/history"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/httpapi"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/logging"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/mqtt"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/observability"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ratelimit"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/setup"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/store"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not read .env", "error", err)
	}
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownObs, promHandler, tracer, err := observability.SetupObservability(ctx, "intg-requests")
	if err != nil {
		slog.Error("observability init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownObs()

	settings, err := setup.Open(cfg.SetupFile)
	if err != nil {
		slog.Error("setup store init failed", "path", cfg.SetupFile, "error", err)
		os.Exit(1)
	}

	api := ucapi.New(ucapi.Options{
		Interface:   cfg.Interface,
		Port:        cfg.Port,
		DisableMDNS: cfg.DisableMDNS,
		DriverFile:  cfg.DriverFile,
	})
	if err := api.Init(ctx); err != nil {
		slog.Error("integration api init failed", "error", err)
		os.Exit(1)
	}

	opts := driver.Options{}
	repo, err := openHistory(cfg)
	if err != nil {
		slog.Error("history init failed", "db", cfg.HistoryDB, "error", err)
		os.Exit(1)
	}
	if repo != nil {
		opts.History = repo
	}

	var rdb *redis.Client
	var cache *store.StateCache
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("redis init failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		cache = store.NewStateCache(rdb)
		opts.Cache = cache
	}

	drv := driver.New(api, settings, dispatch.New(settings), opts)
	drv.Register()
	if err := drv.StartCheck(ctx); err != nil {
		slog.Error("entity registration failed", "error", err)
		os.Exit(1)
	}

	if cache != nil {
		var keep []string
		for _, e := range api.AvailableEntities().All() {
			keep = append(keep, e.ID)
		}
		if removed, err := cache.RemoveAllExcept(ctx, keep); err != nil {
			slog.Warn("prune cached entity state failed", "error", err)
		} else if len(removed) > 0 {
			slog.Info("pruned cached entity state", "entity_ids", removed)
		}
	}

	var mClient *mqtt.Client
	var bridge *hdp.Bridge
	if cfg.MQTTBrokerURL != "" {
		mClient, err = mqtt.New(mqtt.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.AdapterID,
			Will: &mqtt.Will{
				Topic:   hdp.StatusTopic(cfg.AdapterID),
				Payload: hdp.OfflineStatus(cfg.AdapterID, cfg.Version),
				Retain:  true,
			},
		})
		if err != nil {
			slog.Error("mqtt init failed", "error", err)
			os.Exit(1)
		}
		bridge = hdp.New(mClient, api, hdp.Config{AdapterID: cfg.AdapterID, Version: cfg.Version})
		if err := bridge.Start(ctx); err != nil {
			slog.Error("hdp bridge start failed", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		if err := api.Serve(ctx); err != nil {
			slog.Error("integration api stopped", "error", err)
			cancel()
		}
	}()

	adminOpts := httpapi.Options{
		Integration:    api,
		JWTSecret:      cfg.JWTSecret,
		Metrics:        promHandler,
		Tracer:         tracer,
		AllowedOrigins: cfg.CORSOrigins,
	}
	if repo != nil {
		adminOpts.History = repo
	}
	if rdb != nil {
		limiter := ratelimit.New(rdb, "intg:rl:commands", ratelimit.LimiterConfig{RPS: cfg.CommandRPS, Burst: cfg.CommandBurst})
		adminOpts.CommandLimit = limiter.Middleware(ratelimit.KeyByUserOrIP)
	}
	admin := httpapi.New(adminOpts)
	srv := &http.Server{Addr: ":" + cfg.AdminPort, Handler: admin.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "error", err)
		}
	}()
	slog.Info("intg-requests started", "driver_id", api.DriverID(), "port", cfg.Port, "admin_port", cfg.AdminPort)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if bridge != nil {
		bridge.Stop()
	}
	if mClient != nil {
		mClient.Disconnect()
	}
	cancel()
	_ = srv.Shutdown(shutdownCtx)
	if rdb != nil {
		_ = rdb.Close()
	}
	slog.Info("intg-requests stopped")
}

// openHistory returns nil when HISTORY_DB=off.
func openHistory(cfg *config.Config) (*history.Repo, error) {
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.HistoryDB {
	case "off", "none", "disabled":
		return nil, nil
	case "postgres":
		p := cfg.Postgres
		db, err = history.OpenPostgres(p.User, p.Password, p.DBName, p.Host, p.Port, p.SSLMode)
	default:
		db, err = history.OpenSQLite(cfg.SQLitePath)
	}
	if err != nil {
		return nil, err
	}
	return history.New(db)
}
