package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/mcpharvest/harvest"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var listen string
	var schedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog API, admin triggers, /metrics and the MCP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("schedule") {
				cfg.Scheduler.Enabled = schedule
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from PORT or config)")
	cmd.Flags().BoolVar(&schedule, "schedule", false, "run the pipeline periodically (overrides scheduler.enabled)")
	return cmd
}

func serve(ctx context.Context, cfg *harvest.Config) error {
	logger := jsonLogger(cfg.LogLevel)
	if cfg.AdminTokenHash == "" {
		logger.Warn("ADMIN_TOKEN_HASH not set, admin routes refuse every request")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := harvest.Open(ctx, cfg, logger, harvest.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("open service: %w", err)
	}
	defer svc.Close()

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "mcpharvest", Version: version}, nil)
	svc.RegisterMCP(mcpSrv)
	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)

	svc.Start(ctx)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Handle("/mcp", mcpHandler)
	r.Mount("/", svc.Routes())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Listen, "db", cfg.DBPath, "scheduler", cfg.Scheduler.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
