// Command nexa-worker is the Nexa background pipeline binary.
//
// Subcommands:
//
//	serve    — ops HTTP server + embedded worker pool and scheduler
//	worker   — worker pool and scheduler only (no HTTP server)
//	migrate  — run pending database migrations and exit
//	enqueue  — enqueue a one-off job from the shell
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/mcastro2021/nexa-worker/internal/alerts"
	"github.com/mcastro2021/nexa-worker/internal/api"
	"github.com/mcastro2021/nexa-worker/internal/config"
	"github.com/mcastro2021/nexa-worker/internal/notify"
	"github.com/mcastro2021/nexa-worker/internal/queue"
	"github.com/mcastro2021/nexa-worker/internal/reports"
	"github.com/mcastro2021/nexa-worker/internal/schedule"
	"github.com/mcastro2021/nexa-worker/internal/store"
	"github.com/mcastro2021/nexa-worker/internal/worker"
	"github.com/mcastro2021/nexa-worker/migrations"
)

func main() {
	root := &cobra.Command{
		Use:   "nexa-worker",
		Short: "Nexa — construction management alert and notification pipeline",
		// Silence default error printing; we print it ourselves with slog.
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(
		serveCmd(),
		workerCmd(),
		migrateCmd(),
		enqueueCmd(),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ops HTTP server with embedded worker pool and scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(newLogger(cfg))

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	q, pool, sched, err := buildPipeline(cfg, db)
	if err != nil {
		return err
	}

	// The pool and scheduler drain on ctx cancellation, which happens before
	// or alongside HTTP server shutdown.
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		pool.Start(ctx)
	}()
	go sched.Start(ctx)

	srv := &http.Server{ //nolint:exhaustruct
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(q, db).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		stop() // release signal notification
	}

	slog.Info("shutting down", "timeout_seconds", cfg.ShutdownTimeoutSeconds)
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	// In-flight jobs finish before the process exits.
	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		slog.Warn("worker drain timed out")
	}
	slog.Info("server stopped")
	return nil
}

// ── worker ────────────────────────────────────────────────────────────────────

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Start the worker pool and scheduler (no HTTP server)",
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(newLogger(cfg))

	db, err := newPool(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	_, pool, sched, err := buildPipeline(cfg, db)
	if err != nil {
		return err
	}

	go sched.Start(ctx)

	slog.Info("worker started")
	pool.Start(ctx) // blocks until ctx cancelled, then drains in-flight jobs
	return nil
}

// ── migrate ───────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run pending database migrations and exit",
		RunE:  runMigrate,
	}
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.Info("running migrations")

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	// golang-migrate requires a *sql.DB. Use pgx's stdlib adapter so the same
	// driver is used project-wide. No pooling needed for a one-shot run.
	connCfg, err := pgx.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse db url: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close() //nolint:errcheck

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, _, _ := m.Version() //nolint:errcheck
	slog.Info("migrations complete", "version", version)
	return nil
}

// ── enqueue ───────────────────────────────────────────────────────────────────

func enqueueCmd() *cobra.Command {
	var (
		queueName string
		kind      string
		payload   string
		delay     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a one-off job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			slog.SetDefault(newLogger(cfg))

			db, err := newPool(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer db.Close()

			q := queue.NewPostgres(db,
				queue.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
				uuid.New().String())

			id, err := q.Enqueue(cmd.Context(), queue.Job{
				Queue:     queueName,
				Kind:      kind,
				Payload:   []byte(payload),
				NotBefore: time.Now().Add(delay),
			})
			if err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			slog.Info("job enqueued", "job_id", id, "queue", queueName, "kind", kind)
			return nil
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", queue.QueueAlerts, "target queue")
	cmd.Flags().StringVar(&kind, "kind", queue.KindMaintenanceCheck, "job kind")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	cmd.Flags().DurationVar(&delay, "delay", 0, "visibility delay")
	return cmd
}

// ── wiring ────────────────────────────────────────────────────────────────────

// buildPipeline assembles the queue, handler registry, worker pool and
// scheduler from config. Everything is constructed explicitly and passed
// down; there are no ambient singletons.
func buildPipeline(cfg *config.Config, db *pgxpool.Pool) (queue.Queue, *worker.Pool, *schedule.Scheduler, error) {
	q := queue.NewPostgres(db,
		queue.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		uuid.New().String())

	st := store.New(db)

	reg := worker.NewRegistry()

	alerts.New(st, q, alerts.Config{
		InternalRecipients: cfg.AlertRecipientList(),
		LogisticsPhone:     cfg.LogisticsPhone,
	}).Register(reg)

	var email notify.EmailSender
	if cfg.SMTPHost != "" {
		email = notify.NewSMTPEmailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			TLS:      cfg.SMTPTLS,
		})
	} else {
		email = notify.SimulatedEmailer{Latency: cfg.SimulatedSendLatency}
	}
	notify.NewHandlers(email,
		notify.SimulatedMessenger{Channel: "whatsapp", Latency: cfg.SimulatedSendLatency},
		notify.SimulatedMessenger{Channel: "sms", Latency: cfg.SimulatedSendLatency},
	).Register(reg)

	reports.New(st).Register(reg)

	queues := worker.DefaultQueues()
	for i := range queues {
		switch queues[i].Name {
		case queue.QueueAlerts:
			queues[i].Concurrency = cfg.AlertsConcurrency
		case queue.QueueNotifications:
			queues[i].Concurrency = cfg.NotificationsConcurrency
		case queue.QueueReports:
			queues[i].Concurrency = cfg.ReportsConcurrency
		}
	}

	pool := worker.New(q, reg, queues)
	pool.SetPollInterval(cfg.PollInterval)

	sched, err := schedule.New(q, schedule.DefaultRules())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("scheduler: %w", err)
	}
	return q, pool, sched, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// newPool creates and validates a pgxpool. Retries with linear backoff to
// absorb the compose startup race where Postgres is not immediately ready.
func newPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.DBQueryExecMode == "simple_protocol" {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	poolCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.Itoa(cfg.DBStatementTimeoutMS)
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MaxConnIdleTime = cfg.DBMaxConnIdleTime

	var (
		db      *pgxpool.Pool
		connErr error
	)
	for attempt := 1; attempt <= 10; attempt++ {
		db, connErr = pgxpool.NewWithConfig(ctx, poolCfg)
		if connErr == nil {
			if connErr = db.Ping(ctx); connErr == nil {
				return db, nil
			}
			db.Close()
		}
		slog.Warn("database not ready, retrying", "attempt", attempt, "error", connErr)
		// time.NewTimer (not time.After) so the timer is released if ctx is
		// cancelled before it fires.
		timer := time.NewTimer(time.Duration(attempt) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("connect: %w", connErr)
}
