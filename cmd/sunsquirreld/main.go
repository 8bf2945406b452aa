// Command sunsquirreld serves plant telemetry over gRPC through the
// read-through cache.
//
//	sunsquirreld serve --config sunsquirrel.yaml
//	sunsquirreld check --config sunsquirrel.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gs "github.com/Keksclan/goSunSquirrel"
	"github.com/Keksclan/goSunSquirrel/telemetry"
	"github.com/Keksclan/goSunSquirrel/tracing"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sunsquirreld",
		Short:         "Solar plant telemetry server with a read-through Redis cache",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "path to the YAML config file (env SUNSQUIRREL_CONFIG)")
	root.PersistentFlags().String("log-level", "", "debug, info, warn or error; overrides the config (env SUNSQUIRREL_LOG_LEVEL)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC server",
		RunE:  runServe,
	}
	serve.Flags().Bool("trace-stdout", false, "write OpenTelemetry spans to stderr")

	check := &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: listen=%s redis=%t l1=%d policies=%d\n",
				cfg.Listen, cfg.Cache.Redis != nil, cfg.Cache.L1MaxEntries, len(cfg.Policies))
			return nil
		},
	}

	root.AddCommand(serve, check)
	return root
}

// flagOrEnv returns the flag value, then the environment variable, then def.
func flagOrEnv(cmd *cobra.Command, flag, env, def string) string {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v
	}
	if v, ok := os.LookupEnv(env); ok && v != "" {
		return v
	}
	return def
}

func loadConfig(cmd *cobra.Command) (Config, error) {
	path := flagOrEnv(cmd, "config", "SUNSQUIRREL_CONFIG", "")
	if path == "" {
		return Config{}, errors.New("no config file: pass --config or set SUNSQUIRREL_CONFIG")
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.LogLevel = flagOrEnv(cmd, "log-level", "SUNSQUIRREL_LOG_LEVEL", cfg.LogLevel)
	return cfg, nil
}

// newLogger builds a development logger at debug level and a production
// (JSON) logger otherwise.
func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Fixtures == "" {
		return errors.New("fixtures: no data source configured")
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	src, err := telemetry.LoadFile(cfg.Fixtures)
	if err != nil {
		return err
	}

	opts := append(gs.DefaultOptions(),
		gs.WithLogger(logger),
		gs.WithSource(src),
	)
	opts = append(opts, cfg.serverOptions()...)

	if on, _ := cmd.Flags().GetBool("trace-stdout"); on {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return fmt.Errorf("trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		opts = append(opts, gs.WithOpenTelemetry(tracing.TracingConfig{TracerProvider: tp}))
	}

	srv, err := gs.NewServer(opts...)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return errors.Join(fmt.Errorf("listen: %w", err), srv.Shutdown(context.Background()))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metrics *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", srv.MetricsHandler())
		metrics = &http.Server{Addr: cfg.MetricsListen, Handler: mux}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("sunsquirreld listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("metrics", cfg.MetricsListen),
		zap.Bool("redis", cfg.Cache.Redis != nil),
	)

	return serveUntilDone(ctx, logger, srv, lis, metrics, cfg.ShutdownGrace.Std())
}

// serveUntilDone runs srv until ctx ends or Serve fails. Either way the
// servers are shut down within grace and the cache backend is released.
func serveUntilDone(ctx context.Context, logger *zap.Logger, srv *gs.Server, lis net.Listener, metrics *http.Server, grace time.Duration) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(lis) }()

	var serveFailure error
	select {
	case serveFailure = <-serveErr:
		logger.Error("grpc server stopped", zap.Error(serveFailure))
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if metrics != nil {
		_ = metrics.Shutdown(sctx)
	}
	return errors.Join(serveFailure, srv.Shutdown(sctx))
}
