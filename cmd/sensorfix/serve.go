package main

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"sensorfix/internal/db"
	"sensorfix/internal/httpapi"
	"sensorfix/internal/metrics"
	"sensorfix/internal/repair"
	"sensorfix/internal/repairworker"
)

func newServeCmd(c *cli) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and process queued repairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := c.log

			e, err := c.engine()
			if err != nil {
				return err
			}
			m := metrics.New()
			notifier := repair.NotifierFunc(func(_ context.Context, msg string) {
				logger.Warn().Str("notice", msg).Msg("user action required")
			})
			reg, err := c.registry(e, notifier, m)
			if err != nil {
				return err
			}

			var pool *db.Pool
			if c.cfg.DatabaseURL != "" {
				p, err := db.Open(ctx, c.cfg.DatabaseURL)
				if err != nil {
					logger.Error().Err(err).Msg("failed to connect to database")
					return err
				}
				defer p.Close()
				pool = p

				if migrate {
					if err := pool.Migrate(ctx, c.cfg.Migrations); err != nil {
						return err
					}
					logger.Info().Str("dir", c.cfg.Migrations).Msg("migrations applied")
				}

				worker := repairworker.New(logger, pool.Queries(), reg, repairworker.Options{PollInterval: c.cfg.PollInterval})
				go worker.Run(ctx)
			} else {
				logger.Warn().Msg("DATABASE_URL not set; repairs cannot be queued")
			}

			h := httpapi.NewHandler(logger, pool, httpapi.Deps{
				Fixes:   reg,
				Devices: e.manager,
				Catalog: e.catalog,
				Metrics: m,
			})
			srv := &http.Server{
				Addr:              c.cfg.HTTPAddr,
				Handler:           h.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", c.cfg.HTTPAddr).Bool("dry_run", e.dryRun).Msg("sensorfix listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				logger.Error().Err(err).Msg("http server error")
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			logger.Info().Msg("shutdown complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}
