package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/diewo77/go-partners/internal/config"
	"github.com/diewo77/go-partners/internal/db"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	migrate bool
	seed    bool
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(root)
			if err != nil {
				return err
			}
			defer func() { _ = e.log.Sync() }()
			return serve(cmd.Context(), e, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply migrations before serving")
	cmd.Flags().BoolVar(&opts.seed, "seed", false, "seed permissions, profiles and the admin account before serving")
	return cmd
}

func serve(parent context.Context, e *env, opts *serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := openDatabase(ctx, e, opts)
	if err != nil {
		return err
	}
	limiter, rdb := newLimiter(ctx, e.cfg.Redis, e.log)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	app, err := NewApp(ctx, e.cfg, gdb, limiter, e.log)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	srv := newHTTPServer(e.cfg.Server, app)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.log.Info("http server listening", zap.String("addr", srv.Addr), zap.String("env", e.cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		e.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	e.log.Info("server stopped")
	return nil
}

// openDatabase returns nil when no database is configured so the API can
// still serve its demo and mock responses.
func openDatabase(ctx context.Context, e *env, opts *serveOptions) (*gorm.DB, error) {
	if !e.cfg.Database.Configured() {
		e.log.Warn("database not configured, running without persistence")
		return nil, nil
	}
	gdb, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	if opts.migrate {
		if err := db.Migrate(gdb, e.cfg.Database, e.log); err != nil {
			return nil, err
		}
	}
	if err := db.CheckSchema(gdb); err != nil {
		e.log.Warn("schema check failed, run with --migrate", zap.Error(err))
	}
	if opts.seed {
		if err := db.Seed(gdb, seedOptions(e.cfg)); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}
	return gdb, nil
}

func newHTTPServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         net.JoinHostPort("", cfg.Port),
		Handler:      h,
		ReadTimeout:  seconds(cfg.ReadTimeout),
		WriteTimeout: seconds(cfg.WriteTimeout),
		IdleTimeout:  seconds(cfg.IdleTimeout),
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
