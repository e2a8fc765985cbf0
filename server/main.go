package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/urfave/cli/v2"
)

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func main() {
	app := &cli.App{
		Name:  "epitrello",
		Usage: "collaborative board server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML config file",
				EnvVars: []string{"EPITRELLO_CONFIG"},
			},
		},
		Action: runServe,
		Commands: []*cli.Command{
			{Name: "serve", Usage: "run the HTTP and real-time server", Action: runServe},
			{Name: "migrate", Usage: "apply the database schema and exit", Action: runMigrate},
		},
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) (Config, *slog.Logger, error) {
	cfg, err := LoadConfig(c.String("config"))
	if err != nil {
		return Config{}, nil, err
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.slogLevel()}))
	slog.SetDefault(log)
	return cfg, log, nil
}

func runMigrate(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	db, err := openDB(c.Context, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := NewStore(db).Migrate(c.Context); err != nil {
		return err
	}
	log.Info("schema applied")
	return nil
}

func runServe(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	ctx := c.Context

	db, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	store := NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	m := newMetrics()
	a := newAPI(cfg, store, log, m)

	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		a.redis = rdb
		a.presence = newRedisPresence(rdb)
		relay := newRedisRelay(rdb, log)
		if err := relay.run(ctx, a.hub.deliver); err != nil {
			return err
		}
		a.hub.useRelay(relay)
		log.Info("redis relay and presence enabled")
	}

	if cfg.ActivityBackend == "mongo" {
		activity, closeMongo, err := newMongoActivityLog(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return err
		}
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = closeMongo(shCtx)
		}()
		a.activity = activity
		log.Info("activity log on mongo", "database", cfg.MongoDatabase)
	}

	if cfg.S3.enabled() {
		avatars, err := newMinioAvatars(ctx, cfg.S3)
		if err != nil {
			return err
		}
		a.avatars = avatars
	}

	mux := http.NewServeMux()
	a.routes(mux)

	var handler http.Handler = mux
	if len(cfg.CORSOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Socket-Id", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}

	srv := &http.Server{Addr: cfg.Addr, Handler: withLogging(log, m, handler),
		ReadTimeout: 15 * time.Second, ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr, "reorder_mode", cfg.ReorderMode)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) && err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")
	ctxSh, cancelSh := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelSh()
	if err := srv.Shutdown(ctxSh); err != nil {
		log.Error("shutdown", "err", err)
	}
	return nil
}
