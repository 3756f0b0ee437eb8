package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/crossref-cli/internal/cache"
	"github.com/sells-group/crossref-cli/internal/config"
	"github.com/sells-group/crossref-cli/internal/monitoring"
	"github.com/sells-group/crossref-cli/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and batch scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		sch := env.newScheduler(cfg.Batch)
		collector := monitoring.NewCollector(sch, env.Cache)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		a := &api{
			resolver: env.Resolver,
			catalog:  env.Catalog,
			jobs:     sch,
			cache:    env.Cache,
			guard:    env.Guard,
			metrics:  collector,
			lookback: cfg.Monitoring.LookbackWindowHours,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           a.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return sch.Run(gctx)
		})
		g.Go(func() error {
			cache.RunSweeper(gctx, env.Cache, cfg.Cache.SweepInterval())
			return nil
		})
		g.Go(func() error {
			runPruner(gctx, sch, time.Duration(cfg.Batch.RetainHours)*time.Hour)
			return nil
		})
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// runPruner drops finished jobs older than retain until ctx is done.
func runPruner(ctx context.Context, sch *scheduler.Scheduler, retain time.Duration) {
	if retain <= 0 {
		return
	}
	interval := retain / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sch.Prune(retain); n > 0 {
				zap.L().Info("pruned finished jobs", zap.Int("count", n))
			}
		}
	}
}
