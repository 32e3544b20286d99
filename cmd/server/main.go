package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"memberdir/internal/audit"
	"memberdir/internal/counter"
	directoryhandler "memberdir/internal/directory/handler"
	"memberdir/internal/directory/service"
	"memberdir/internal/directory/store"
	"memberdir/internal/importer"
	importerhandler "memberdir/internal/importer/handler"
	"memberdir/internal/mirror"
	"memberdir/internal/platform/config"
	"memberdir/internal/platform/httpserver"
	"memberdir/internal/platform/logger"
	"memberdir/internal/platform/metrics"
	platformredis "memberdir/internal/platform/redis"
	"memberdir/internal/repair"
	repairhandler "memberdir/internal/repair/handler"
	httptransport "memberdir/internal/transport/http"
)

// stores is the accessor shape both the in-memory and Postgres directory
// stores expose.
type stores interface {
	store.MemberStore
	Schools() store.SchoolStore
	Gradings() store.GradingStore
	Orders() store.OrderStore
	Profiles() store.ProfileStore
	SchoolMembers() store.SchoolMemberMirrorStore
	Rosters() store.RosterMirrorStore
	GradingMirrors() store.GradingMirrorStore
	Quarantine() store.QuarantineStore
	Emails() store.EmailIndex
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	db, counterStore, cleanup, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("store setup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	emails, emailCleanup, err := openEmailIndex(ctx, cfg, db, log)
	if err != nil {
		log.Error("email index setup failed", "error", err)
		os.Exit(1)
	}
	defer emailCleanup()

	audits := audit.NewAsyncPublisher(256)
	auditCtx, stopAudit := context.WithCancel(ctx)
	defer stopAudit()
	go func() {
		_ = audit.NewWorker(audits, audit.NewLogPublisher(log)).Run(auditCtx)
	}()

	m := metrics.New()
	counters := counter.New(counterStore,
		counter.WithFloor(cfg.CounterFloor),
		counter.WithLogger(log),
		counter.WithMetrics(m),
	)
	engine := mirror.New(
		db,
		db.Schools(),
		db.Profiles(),
		db.SchoolMembers(),
		db.Rosters(),
		db.GradingMirrors(),
		emails,
		mirror.WithLogger(log),
		mirror.WithMetrics(m),
	)
	directory := service.New(
		db,
		db.Schools(),
		db.Gradings(),
		db.Orders(),
		emails,
		counters,
		engine,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAudit(audits),
	)
	imports := importer.NewService(
		db,
		db.Schools(),
		db.Orders(),
		importer.NewReconciler(importer.WithLogger(log), importer.WithMetrics(m)),
		importer.NewCommitter(directory, counters,
			importer.WithCommitLogger(log),
			importer.WithCommitMetrics(m),
		),
	)
	repairs := repair.New(
		db,
		db.Profiles(),
		db.Rosters(),
		db.Quarantine(),
		engine,
		repair.WithLogger(log),
		repair.WithMetrics(m),
	)

	router := httptransport.NewRouter(
		directoryhandler.New(directory, log),
		importerhandler.New(imports, log),
		repairhandler.New(repairs, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting memberdir", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// openStores selects Postgres when configured and falls back to the
// in-memory stores for local development.
func openStores(ctx context.Context, cfg config.Server, log *slog.Logger) (stores, counter.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Info("no database configured, using in-memory stores")
		return store.NewInMemory(), counter.NewInMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := store.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	counterStore := counter.NewPostgresStore(pool)
	if err := counterStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		_ = db.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		_ = db.Close()
	}
	return store.NewPostgres(db), counterStore, cleanup, nil
}

// openEmailIndex prefers the Redis index and falls back to the store-backed
// one when no Redis address is configured.
func openEmailIndex(ctx context.Context, cfg config.Server, db stores, log *slog.Logger) (store.EmailIndex, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("no redis configured, using store-backed email index")
		return db.Emails(), func() {}, nil
	}
	client, err := platformredis.New(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	return store.NewRedisEmailIndex(client), func() { _ = client.Close() }, nil
}
