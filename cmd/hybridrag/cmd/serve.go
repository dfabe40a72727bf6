package cmd

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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/hybridrag/internal/api"
	"github.com/Aman-CERP/hybridrag/internal/mcp"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var (
		httpAddr    string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search over MCP (stdio) or HTTP",
		Long: `Start the query server.

By default the MCP server speaks JSON-RPC on stdin/stdout for use by AI
assistants; nothing else is written to stdout or stderr. Logs go to the
log file.

With --http the server exposes the JSON API under /v1, the MCP
streamable HTTP transport at /mcp, Prometheus metrics at /metrics and a
liveness probe at /healthz.

--metrics-addr serves /metrics on a separate listener, which is the only
way to scrape metrics in stdio mode.`,
		Example: `  hybridrag serve
  hybridrag serve --http :8080
  hybridrag serve --metrics-addr 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, httpAddr, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve HTTP on this address instead of MCP stdio")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on a separate address")

	return cmd
}

func runServe(ctx context.Context, httpAddr, metricsAddr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if httpAddr == "" && cfg.Server.Transport == "http" {
		httpAddr = cfg.Server.HTTPAddr
	}
	if metricsAddr == "" {
		metricsAddr = cfg.Server.MetricsAddr
	}

	rt, err := openRuntime(ctx, cfg, embedderOptional)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("failed to close backend", slog.String("error", err.Error()))
		}
	}()

	metrics := telemetry.New()
	engine, err := search.NewEngine(rt.backend, rt.embedder, rt.policy, cfg.Search,
		rt.engineOptions(search.WithMetrics(metrics))...)
	if err != nil {
		return err
	}

	mcpServer, err := mcp.NewServer(engine, rt.backend, rt.embedder, cfg)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// The metrics listener stops when the main transport does.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gctx, metricsAddr, metrics)
		})
	}

	if httpAddr != "" {
		srv, err := api.New(engine, rt.backend,
			api.WithMetrics(metrics),
			api.WithMCP(mcpServer.HTTPHandler()))
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer cancel()
			return srv.Run(gctx, httpAddr)
		})
	} else {
		g.Go(func() error {
			defer cancel()
			return mcpServer.Serve(gctx, "stdio")
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serveMetrics exposes only /metrics on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, metrics *telemetry.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
