// Command httploopd runs the event-loop-driven HTTP/1.1 server as a
// standalone daemon, wiring configuration, structured logging, metrics, and
// a demo routing handler together.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/joeycumines/go-httploop/config"
	"github.com/joeycumines/go-httploop/eventloop"
	"github.com/joeycumines/go-httploop/httpserver"
	"github.com/joeycumines/go-httploop/internal/logging"
	"github.com/joeycumines/go-httploop/internal/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "httploopd",
		Short: "Single-threaded, event-loop-driven HTTP/1.1 server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a config file (yaml/json/toml)")
	cmd.Flags().String("listen-addr", ":8080", "address to listen on")
	cmd.Flags().String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	cmd.Flags().String("log-level", "info", "minimum log level (debug, info, warn, error)")
	cmd.Flags().Int("rate-limit-per-second", 0, "per-IP accept rate limit, 0 disables")
	cmd.Flags().Int("rate-limit-per-minute", 0, "per-IP accept rate limit, 0 disables")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.New(os.Stderr, parseLevel(cfg.LogLevel))

	loop, err := eventloop.New(eventloop.WithLogger(logger.EventLoopSink()))
	if err != nil {
		return fmt.Errorf("httploopd: creating event loop: %w", err)
	}

	metrics := telemetry.New()

	var limiter *catrate.Limiter
	if cfg.RateLimitPerSecond > 0 || cfg.RateLimitPerMinute > 0 {
		rates := map[time.Duration]int{}
		if cfg.RateLimitPerSecond > 0 {
			rates[time.Second] = cfg.RateLimitPerSecond
		}
		if cfg.RateLimitPerMinute > 0 {
			rates[time.Minute] = cfg.RateLimitPerMinute
		}
		limiter = catrate.NewLimiter(rates)
	}

	srv := httpserver.NewServer(loop, demoHandler(loop, logger),
		httpserver.WithRateLimiter(limiter),
		httpserver.WithMetrics(metrics),
		httpserver.WithIdleTimeout(cfg.IdleTimeout),
		httpserver.WithErrorReporter(func(e *httpserver.Error) {
			logger.Error("connection error: "+e.Kind.String(), e)
		}),
		httpserver.OnListening(func() {
			logger.Info("listening on " + cfg.ListenAddr)
		}),
	)

	if err := srv.Listen(cfg.ListenAddr); err != nil {
		return fmt.Errorf("httploopd: listen: %w", err)
	}

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, metrics, logger)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, draining connections")
		_ = loop.Submit(func() { srv.Close(func() { loop.Stop() }) })
	}()

	if err := loop.Run(context.Background()); err != nil {
		return fmt.Errorf("httploopd: loop exited: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// serveMetrics runs a conventional net/http server for Prometheus scraping.
// It is deliberately outside the event loop: metrics scraping is
// infrequent, low-volume, and unrelated to the spec's single-threaded
// request path, so giving it its own goroutine and the standard server
// avoids complicating the loop's phase accounting for no benefit.
func serveMetrics(addr string, m *telemetry.Metrics, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited", err)
	}
}

func parseLevel(s string) logiface.Level {
	switch s {
	case "debug":
		return logiface.LevelDebug
	case "warn", "warning":
		return logiface.LevelWarning
	case "error":
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
