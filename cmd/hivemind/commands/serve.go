package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/hivemind/internal/server"
	"github.com/dyluth/hivemind/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	serveAddr      string
	serveNamespace string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Redis-backed knowledge service",
	Long: `Serve the knowledge HTTP API backed by Redis.

Endpoints:
  POST /memory/add      store an entry (deduplicated by identity hash)
  POST /memory/search   search entries
  GET  /health          readiness probe
  GET  /stats           store counters

Examples:
  hivemind serve
  hivemind serve --addr :9000 --namespace staging`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&serveNamespace, "namespace", "", "Redis key namespace (overrides redis.namespace)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	st, err := openStore(serveNamespace)
	if err != nil {
		return newPrinter(cmd).Error("failed to open store", err.Error(), nil)
	}
	defer st.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = st.Ping(pingCtx)
	cancel()
	if err != nil {
		return newPrinter(cmd).ErrorWithContext(
			"Redis unreachable",
			err.Error(),
			map[string]string{"Redis": cfg.Redis.URL},
			[]string{"Start Redis or set redis.url / HIVEMIND_REDIS_URL"},
		)
	}

	srv := server.New(st, server.Config{
		Addr:         addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, logger)
	if err := srv.Start(); err != nil {
		return newPrinter(cmd).Error("failed to start server", err.Error(), nil)
	}

	newPrinter(cmd).Success("knowledge service listening on %s (namespace %s)\n", srv.Addr(), st.Namespace())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	logger.Info("knowledge service stopped")
	return nil
}

// openStore connects to the configured Redis. An empty namespace uses the
// configured one.
func openStore(namespace string) (*store.Store, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if namespace == "" {
		namespace = cfg.Redis.Namespace
	}
	return store.New(opts, namespace, cfg.Redis.MaxScan, logger)
}
