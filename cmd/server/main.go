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

	"stockledger/internal/api"
	"stockledger/internal/config"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/ledger"
	"stockledger/internal/domain/lots"
	"stockledger/internal/domain/units"
	"stockledger/internal/infra/db"
	httpx "stockledger/internal/infra/http"
	"stockledger/internal/infra/logger"
	"stockledger/internal/notify"
	"stockledger/internal/store/memory"
	"stockledger/internal/store/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/subosito/gotenv"
)

func runMigrations(dsn string) error {
	sqlDB, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, "migrations")
}

func main() {
	_ = gotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/example.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store       ledger.Store
		cat         api.Catalog
		reg         api.LotRegistry
		unitMembers []units.Unit
	)
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("using in-memory storage, nothing will be persisted")
		mem := memory.New()
		store, cat, reg = mem, mem, mem
	default:
		if err := runMigrations(cfg.Storage.DSN); err != nil {
			log.Error("migrations failed", "err", err)
			return
		}
		log.Info("migrations applied")

		pool, err := db.Connect(ctx, cfg.Storage.DSN)
		if err != nil {
			log.Error("db connect failed", "err", err)
			return
		}
		defer pool.Close()
		log.Info("db connected")

		catRepo := catalog.NewRepo(pool)
		unitMembers, err = catRepo.ListUnitOverrides(ctx)
		if err != nil {
			log.Error("loading unit overrides failed", "err", err)
			return
		}
		store = postgres.New(pool)
		cat = catRepo
		reg = lots.NewRepo(pool)
	}

	engine := ledger.New(store, units.NewTable(unitMembers), log)
	handler := api.New(engine, cat, reg, log)

	srv := httpx.New(cfg.HTTP.Addr, handler, cfg.Metrics.Enabled)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
		}
	}()
	log.Info("HTTP server started", "addr", cfg.HTTP.Addr)

	if cfg.Alerts.Enabled {
		startNotifier(ctx, cfg, engine, log)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}

func startNotifier(ctx context.Context, cfg config.Config, engine *ledger.Engine, log *slog.Logger) {
	n, err := notify.New(
		cfg.Alerts.TelegramToken,
		cfg.Alerts.ChatID,
		engine,
		time.Duration(cfg.Alerts.IntervalMin)*time.Minute,
		cfg.Alerts.ExpiryDays,
		log,
	)
	if err != nil {
		log.Error("alert notifier disabled", "err", err)
		return
	}
	go n.Run(ctx)
	log.Info("alert notifier started", "interval_min", cfg.Alerts.IntervalMin)
}
