package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/graffiti/internal/broker"
	"github.com/roach88/graffiti/internal/config"
	"github.com/roach88/graffiti/internal/delivery"
	"github.com/roach88/graffiti/internal/feed"
	"github.com/roach88/graffiti/internal/gateway"
	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/objects"
	"github.com/roach88/graffiti/internal/registry"
	"github.com/roach88/graffiti/internal/store"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command. Flags that were set
// override the config file.
type ServeOptions struct {
	*RootOptions
	Listen            string
	Database          string
	BatchSize         int
	HeartbeatInterval time.Duration
	FeedBackend       string
	RedisAddr         string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live-query server",
		Long: `Run the graffiti server.

Opens (or creates) the SQLite object store, starts the live-query broker,
and serves the websocket client protocol on /socket and a health check on
/healthz until interrupted.

Example:
  graffiti serve --db ./graffiti.db --listen :8080
  graffiti serve --config ./graffiti.yaml --feed redis --redis-addr localhost:6379`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	defaults := config.Default()
	cmd.Flags().StringVar(&opts.Listen, "listen", defaults.Listen, "address to listen on")
	cmd.Flags().StringVar(&opts.Database, "db", defaults.Database, "path to SQLite database")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", defaults.BatchSize, "historical replay page size")
	cmd.Flags().DurationVar(&opts.HeartbeatInterval, "heartbeat", defaults.HeartbeatInterval, "heartbeat interval")
	cmd.Flags().StringVar(&opts.FeedBackend, "feed", defaults.Feed.Backend, "change feed backend (memory|redis)")
	cmd.Flags().StringVar(&opts.RedisAddr, "redis-addr", "", "Redis address for the redis feed")

	return cmd
}

// loadServeConfig merges file, environment and flags.
func loadServeConfig(opts *ServeOptions, cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = opts.Listen
	}
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = opts.BatchSize
	}
	if flags.Changed("heartbeat") {
		cfg.HeartbeatInterval = opts.HeartbeatInterval
	}
	if flags.Changed("feed") {
		cfg.Feed.Backend = opts.FeedBackend
	}
	if flags.Changed("redis-addr") {
		cfg.Feed.RedisAddr = opts.RedisAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openFeed(ctx context.Context, cfg config.FeedConfig) (feed.Feed, error) {
	if cfg.Backend == config.FeedRedis {
		return feed.NewRedis(ctx, cfg.RedisAddr, cfg.Channel)
	}
	return feed.NewMemory(), nil
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadServeConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	setupLogging(cmd.ErrOrStderr(), opts.Verbose, cfg.LogLevel)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("opening database", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	changes, err := openFeed(ctx, cfg.Feed)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open change feed", err)
	}
	defer changes.Close()

	reg := registry.New()
	b := broker.New(st, reg, broker.WithBatchSize(cfg.BatchSize))

	sub, err := changes.Subscribe(ctx, func(c ir.Change) { b.Notify(c) })
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to subscribe to change feed", err)
	}
	defer sub.Close()

	srv := gateway.New(ctx, gateway.Deps{
		Store:    st,
		Registry: reg,
		Broker:   b,
		Writer:   objects.NewWriter(st, changes),
		Auth:     gateway.NewAuthenticator(cfg.Auth.Secret),
		Delivery: delivery.Config{
			HeartbeatInterval: cfg.HeartbeatInterval,
			WriteTimeout:      cfg.WriteTimeout,
			OutboxSize:        cfg.OutboxSize,
		},
	})

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	brokerDone := make(chan error, 1)
	go func() { brokerDone <- b.Run(ctx) }()

	serveDone := make(chan error, 1)
	go func() { serveDone <- httpServer.Serve(ln) }()

	slog.Info("server started", "addr", ln.Addr().String(), "feed", cfg.Feed.Backend, "auth", cfg.Auth.Secret != "")
	fmt.Fprintf(cmd.OutOrStdout(), "graffiti listening on %s\n", ln.Addr())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveDone:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	<-brokerDone

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", serveErr)
	}
	slog.Info("server stopped gracefully")
	return nil
}
