// Package cli implements the dirctl command set: repair sweeps and batch
// imports run against the directory stores without going through the server.
package cli

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"memberdir/internal/counter"
	"memberdir/internal/directory/store"
	"memberdir/internal/mirror"
	"memberdir/internal/platform/config"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand builds the dirctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "dirctl",
		Short:         "Directory maintenance: repair sweeps and batch imports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewRepairCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	return cmd
}

func newLogger(opts *RootOptions) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// env bundles everything a command needs against one live directory.
type env struct {
	db       directoryStores
	counters *counter.Service
	engine   *mirror.Engine
	emails   store.EmailIndex
	logger   *slog.Logger
	close    func()
}

type directoryStores interface {
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

// openEnv connects to the stores named by the environment. The CLI always
// uses the store-backed email index; the Redis index belongs to the server's
// serving path.
func openEnv(ctx context.Context, opts *RootOptions) (*env, error) {
	cfg := config.FromEnv()
	logger := newLogger(opts)

	if cfg.DatabaseURL == "" {
		logger.Warn("no MEMBERDIR_DATABASE_URL set; operating on empty in-memory stores")
		db := store.NewInMemory()
		return buildEnv(db, counter.NewInMemoryStore(), cfg, logger, func() {}), nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	counterStore := counter.NewPostgresStore(pool)
	if err := counterStore.EnsureSchema(ctx); err != nil {
		pool.Close()
		_ = db.Close()
		return nil, err
	}
	closeAll := func() {
		pool.Close()
		_ = db.Close()
	}
	return buildEnv(store.NewPostgres(db), counterStore, cfg, logger, closeAll), nil
}

func buildEnv(db directoryStores, counterStore counter.Store, cfg config.Server, logger *slog.Logger, closeAll func()) *env {
	counters := counter.New(counterStore,
		counter.WithFloor(cfg.CounterFloor),
		counter.WithLogger(logger),
	)
	emails := db.Emails()
	engine := mirror.New(
		db,
		db.Schools(),
		db.Profiles(),
		db.SchoolMembers(),
		db.Rosters(),
		db.GradingMirrors(),
		emails,
		mirror.WithLogger(logger),
	)
	return &env{
		db:       db,
		counters: counters,
		engine:   engine,
		emails:   emails,
		logger:   logger,
		close:    closeAll,
	}
}
