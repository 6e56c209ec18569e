package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/config"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/recommend/metrics"
)

const shutdownTimeout = 5 * time.Second

var (
	transportFlag string
	addrFlag      string
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&transportFlag, "transport", "", "stdio or http (overrides server.transport)")
	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address for the http transport (overrides server.addr)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if transportFlag != "" {
		cfg.Server.Transport = transportFlag
	}
	if addrFlag != "" {
		cfg.Server.Addr = addrFlag
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := recommend.NewRecommendClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warnf("close recommend client: %v", err)
		}
	}()

	if cfg.Server.MetricsAddr != "" {
		metricsSrv := startMetrics(cfg.Server.MetricsAddr)
		defer shutdown(metricsSrv.Shutdown)
	}

	mcpServer := recommend.NewServer(cfg, client)
	switch strings.ToLower(cfg.Server.Transport) {
	case "", "stdio":
		logger.Infof("recommend: serving MCP over stdio")
		return server.ServeStdio(mcpServer)
	case "http":
		return serveHTTP(ctx, cfg, mcpServer)
	default:
		return fmt.Errorf("unsupported transport %q", cfg.Server.Transport)
	}
}

func serveHTTP(ctx context.Context, cfg *config.Config, mcpServer *server.MCPServer) error {
	httpServer := server.NewStreamableHTTPServer(mcpServer)
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("recommend: serving MCP over streamable http on %s", cfg.Server.Addr)
		errCh <- httpServer.Start(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Infof("recommend: shutting down")
		shutdown(httpServer.Shutdown)
		return nil
	}
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("recommend: metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server failed: %v", err)
		}
	}()
	return srv
}

func shutdown(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}
}
