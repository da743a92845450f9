package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/logging"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/metrics"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/server"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/storage"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the search job server",
	Long: `Start evoburrito in server mode so searches can be submitted remotely.

The server provides a REST API and WebSocket endpoints for:
- Submitting searches against a driver controller
- Streaming live search progress
- Cancelling running searches
- Browsing stored runs

Examples:
  # Start server on default port
  evoburrito serve

  # Custom port with authentication
  evoburrito serve --port 9000 --auth-token "secret"

  # Allow external connections, keep runs in sqlite
  evoburrito serve --host 0.0.0.0 --storage sqlite --storage-path runs.db`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	defaults := types.DefaultConfig()
	flags := serveCmd.Flags()

	flags.Int("port", defaults.Server.Port, "Server port")
	flags.String("host", defaults.Server.Host, "Host to bind")
	flags.Bool("cors", defaults.Server.EnableCORS, "Enable CORS")
	flags.String("auth-token", defaults.Server.AuthToken, "Require auth token for API access")
	flags.Int("max-concurrent", defaults.Server.MaxConcurrent, "Max concurrent searches")
	flags.Bool("websocket", defaults.Server.EnableWebSocket, "Enable WebSocket for real-time updates")

	viper.BindPFlag("server.port", flags.Lookup("port"))
	viper.BindPFlag("server.host", flags.Lookup("host"))
	viper.BindPFlag("server.enable_cors", flags.Lookup("cors"))
	viper.BindPFlag("server.auth_token", flags.Lookup("auth-token"))
	viper.BindPFlag("server.max_concurrent", flags.Lookup("max-concurrent"))
	viper.BindPFlag("server.enable_websocket", flags.Lookup("websocket"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging)

	printBanner()

	store, err := storage.New(context.Background(), cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	rec := metrics.New()
	factory := func(ctx context.Context, req server.SearchRequest) (server.Session, error) {
		jobCfg, err := applyRequest(cfg, req)
		if err != nil {
			return nil, err
		}
		sess, err := openSession(ctx, jobCfg, rec, logger)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	srv, err := server.New(cfg.Server, factory,
		server.WithStore(store),
		server.WithMetrics(rec.Handler()),
		server.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Handle shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	// Print server info
	fmt.Printf("Server starting on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Default controller: %s:%d\n", cfg.Controller.Host, cfg.Controller.Port)
	fmt.Println()
	fmt.Println("API Endpoints:")
	fmt.Printf("  POST   /api/v1/search        - Submit search\n")
	fmt.Printf("  GET    /api/v1/search        - List jobs\n")
	fmt.Printf("  GET    /api/v1/search/:id    - Get search status\n")
	fmt.Printf("  DELETE /api/v1/search/:id    - Cancel search\n")
	fmt.Printf("  GET    /api/v1/runs          - List stored runs\n")
	fmt.Printf("  GET    /api/v1/runs/:id      - Get stored run\n")
	fmt.Printf("  GET    /api/v1/health        - Health check\n")
	fmt.Printf("  GET    /metrics              - Prometheus metrics\n")
	if cfg.Server.EnableWebSocket {
		fmt.Printf("  WS     /api/v1/search/:id/ws - Real-time updates\n")
	}
	fmt.Println()

	if cfg.Server.AuthToken != "" {
		fmt.Println("Authentication: Enabled (use Authorization header)")
	} else {
		color.Yellow("Warning: No authentication configured. Consider using --auth-token")
	}
	fmt.Println()

	// Start server (blocks until shutdown)
	return srv.Start()
}
