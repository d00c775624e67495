package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/whatsapp-blast/internal/api"
	"github.com/LeventeLantos/whatsapp-blast/internal/cache"
	"github.com/LeventeLantos/whatsapp-blast/internal/campaign"
	"github.com/LeventeLantos/whatsapp-blast/internal/config"
	"github.com/LeventeLantos/whatsapp-blast/internal/repo"
	"github.com/LeventeLantos/whatsapp-blast/internal/runner"
	"github.com/LeventeLantos/whatsapp-blast/internal/templates"
)

const (
	connectTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.LoadAll()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sender, err := newSender(cfg)
	if err != nil {
		return fmt.Errorf("build sender: %w", err)
	}
	catalog, err := templates.Load(cfg.Templates.File)
	if err != nil {
		return err
	}

	deps := campaign.Deps{
		Sender:     sender,
		Catalog:    catalog,
		ContentMax: cfg.Send.ContentMax,
	}

	var results repo.ResultRepository
	if cfg.Database.PostgresURL != "" {
		db, err := openPostgres(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()

		pg := repo.NewPostgresResultRepo(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		results = pg
		deps.Results = pg
	}

	if cfg.Redis.Enabled {
		rdb, err := openRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		deps.Cache = cache.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	c, err := campaign.New(ctx, deps)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(api.NewHandler(c, results))),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	slog.Info("whatsapp-blast starting",
		"version", version,
		"addr", cfg.Server.Address,
		"transport", cfg.Transport.Kind,
		"postgres", results != nil,
		"redis", cfg.Redis.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		// Let an attempt in flight finish before the stores close.
		if perr := c.Pause(); perr != nil && !errors.Is(perr, campaign.ErrNoJob) && !errors.Is(perr, runner.ErrNotRunning) {
			slog.Warn("pause on shutdown failed", "err", perr)
		}
		return err
	})

	return g.Wait()
}

func openPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
