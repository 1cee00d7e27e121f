// gossp daemon -- state synchronization protocol core, wired to a PTY on
// the server side and a raw terminal on the client side.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/chronostruct/gossp/internal/config"
	"github.com/chronostruct/gossp/internal/metrics"
	appversion "github.com/chronostruct/gossp/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to
// drain in-flight requests during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// errUsage indicates the command line did not match either the server or
// the client invocation shape (§6.1).
var errUsage = errors.New("usage: sspd [-config path] -server | sspd [-config path] <ip> <port>")

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	serverMode := flag.Bool("server", false, "run as the listening end of the session")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Println(appversion.Full("sspd"))
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	args := flag.Args()

	switch {
	case *serverMode && len(args) == 0:
		return runAsServer(cfg, logger, logLevel, *configPath)
	case !*serverMode && len(args) == 2:
		port, perr := strconv.Atoi(args[1])
		if perr != nil {
			logger.Error("invalid port argument", slog.String("port", args[1]))
			return 1
		}
		return runAsClient(cfg, logger, args[0], port)
	default:
		logger.Error(errUsage.Error())
		return 1
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// startMetricsServer registers a Prometheus collector and serves it over
// HTTP for the lifetime of ctx. Only the server role runs this: the client
// is attached to an interactive terminal, not a long-lived service process.
func startMetricsServer(ctx context.Context, g *errgroup.Group, cfg config.MetricsConfig, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Addr), slog.String("path", cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve metrics: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})
}

// newCollector builds a Prometheus registry and collector for one process
// role.
func newCollector() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	return reg, metrics.NewCollector(reg)
}
