package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"scout/internal/orchestrator"
	"scout/internal/server"
	"scout/internal/tools"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP/SSE server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}

			metrics := orchestrator.MustNewMetrics(prometheus.DefaultRegisterer)
			engine, _, err := buildEngine(cfg, tools.NewRegistry(), metrics, logger)
			if err != nil {
				return err
			}

			srv := server.New(engine, server.Options{
				Addr:         cfg.Server.Addr,
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				CORSOrigins:  cfg.Server.CORSOrigins,
				Logger:       logger,
			})

			errs := make(chan error, 1)
			go func() { errs <- srv.ListenAndServe() }()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errs:
				return err
			case <-stop:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
