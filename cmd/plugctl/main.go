// Command plugctl runs operator tasks against the configured Plug store:
// schema migrations and one-off refresh credential sweeps. It reads the same
// PLUG_* environment as the server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"plug/cmd/internal/app"
	"plug/cmd/internal/auth/session"
	"plug/cmd/internal/migrate"
	"plug/cmd/internal/storage/sqlitedb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: plugctl [--store kind] migrate status|up|info <name> | sweep")

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg := app.LoadConfig()

	fs := pflag.NewFlagSet("plugctl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Store, "store", cfg.Store, "store backend: sqlite, postgres or memory")
	fs.StringVar(&cfg.DatabasePath, "db-path", cfg.DatabasePath, "SQLite database file")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection URL")
	timeout := fs.Duration("timeout", 30*time.Second, "overall command timeout")
	verbose := fs.BoolP("verbose", "v", false, "log to stderr")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}
	switch rest[0] {
	case "migrate":
		if len(rest) < 2 {
			return errUsage
		}
		return runMigrate(ctx, cfg, log, rest[1:], stdout)
	case "sweep":
		return runSweep(ctx, cfg, log, stdout)
	default:
		return errUsage
	}
}

// migrator is the surface shared by the Postgres manager and the SQLite pool.
type migrator interface {
	Up(ctx context.Context) ([]string, error)
	Status(ctx context.Context) ([]migrate.Status, error)
	Info(ctx context.Context, name string) (migrate.Status, error)
}

type sqliteMigrator struct{ pool *sqlitedb.Pool }

func (m sqliteMigrator) Up(ctx context.Context) ([]string, error) { return m.pool.Migrate(ctx) }

func (m sqliteMigrator) Status(ctx context.Context) ([]migrate.Status, error) {
	return m.pool.Status(ctx)
}

func (m sqliteMigrator) Info(ctx context.Context, name string) (migrate.Status, error) {
	st, err := m.pool.Status(ctx)
	if err != nil {
		return migrate.Status{}, err
	}
	for _, s := range st {
		if s.Name == name {
			return s, nil
		}
	}
	return migrate.Status{}, fmt.Errorf("%w: %s", migrate.ErrUnknownMigration, name)
}

func openMigrator(ctx context.Context, cfg app.Config, log *slog.Logger) (migrator, func(), error) {
	switch cfg.Store {
	case app.StorePostgres:
		pool, err := app.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		files, err := migrate.Files(migrate.Postgres)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		db := stdlib.OpenDBFromPool(pool)
		return migrate.NewManager(db, files), func() {
			_ = db.Close()
			pool.Close()
		}, nil
	case app.StoreSQLite:
		pool, err := sqlitedb.Open(ctx, sqlitedb.Config{Path: cfg.DatabasePath, Logger: log})
		if err != nil {
			return nil, nil, err
		}
		return sqliteMigrator{pool: pool}, func() { _ = pool.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("migrate: store %q has no schema", cfg.Store)
	}
}

func runMigrate(ctx context.Context, cfg app.Config, log *slog.Logger, args []string, stdout io.Writer) error {
	m, closeFn, err := openMigrator(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeFn()

	switch args[0] {
	case "up":
		applied, err := m.Up(ctx)
		for _, name := range applied {
			fmt.Fprintf(stdout, "applied %s\n", name)
		}
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Fprintln(stdout, "schema is up to date")
		}
		return nil
	case "status":
		st, err := m.Status(ctx)
		if err != nil {
			return err
		}
		return printStatus(stdout, st)
	case "info":
		if len(args) < 2 {
			return errUsage
		}
		st, err := m.Info(ctx, args[1])
		if err != nil {
			return err
		}
		return printStatus(stdout, []migrate.Status{st})
	default:
		return errUsage
	}
}

func printStatus(w io.Writer, st []migrate.Status) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tAPPLIED\tAPPLIED AT\tDURATION\tCHECKSUM")
	for _, s := range st {
		at, dur, sum := "-", "-", "ok"
		if s.Applied {
			at = s.AppliedAt.UTC().Format(time.RFC3339)
			dur = fmt.Sprintf("%dms", s.ExecutionTimeMs)
		}
		if s.ChecksumMismatch {
			sum = "MISMATCH"
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", s.Name, s.Applied, at, dur, sum)
	}
	return tw.Flush()
}

func runSweep(ctx context.Context, cfg app.Config, log *slog.Logger, stdout io.Writer) error {
	cfg.MigrateOnStart = false
	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	n, err := session.NewSweeper(stores.Refresh, 0, log, nil).SweepOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "deleted %d expired refresh credentials\n", n)
	return nil
}
