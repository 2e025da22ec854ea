package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/psantana5/secprof/internal/config"
	"github.com/psantana5/secprof/internal/workload"
	"github.com/psantana5/secprof/pkg/api"
	"github.com/psantana5/secprof/pkg/instrument"
	"github.com/psantana5/secprof/pkg/logging"
	"github.com/psantana5/secprof/pkg/metrics"
	"github.com/psantana5/secprof/pkg/profiler"
	"github.com/psantana5/secprof/pkg/shutdown"
)

var (
	serveAddr       string
	serveWorkload   string
	serveInterval   time.Duration
	serveProfileAPI bool
	serveTimeout    time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a workload loop and expose reports over HTTP",
	Long: `Runs a built-in workload in a loop and serves the live profile.

Endpoints:
  GET  /report?merge=&format=&threshold=
  GET  /sections
  POST /reset
  GET  /metrics
  GET  /health

Report options are reloaded when the config file changes. On SIGINT or
SIGTERM the final report is handed to the configured sink.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :9464)")
	serveCmd.Flags().StringVar(&serveWorkload, "workload", "threads", "workload to run in a loop, empty for none")
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 5*time.Second, "pause between workload runs")
	serveCmd.Flags().BoolVar(&serveProfileAPI, "profile-api", false, "record API requests as sections")
	serveCmd.Flags().DurationVar(&serveTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := newLogger("serve")
	if err != nil {
		return err
	}
	defer logger.Close()

	var fn workload.Func
	if serveWorkload != "" {
		if fn, err = workload.Get(serveWorkload); err != nil {
			return err
		}
	}

	p := instrument.New(instrument.Config{
		Registry: profiler.NewRegistry(profiler.WithLogger(logger)),
		Filter:   cfg.Filter(),
		Sink:     cfg.NewSink(logger),
		Logger:   logger,
		Report:   cfg.ReportOptions(),
	})

	if v.ConfigFileUsed() != "" {
		config.Watch(v, logger, func(c *config.Config) {
			p.SetOptions(c.ReportOptions())
		})
	}

	router := mux.NewRouter()
	if serveProfileAPI {
		router.Use(api.SectionMiddleware(p))
	}
	api.NewHandler(p, metrics.NewRegistry(p.Registry()), logger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	mgr := shutdown.New(serveTimeout, logger)
	mgr.Register("publish report", shutdown.PublishReport(p, "secprof.serve()"))
	mgr.Register("http server", shutdown.StopHTTPServer(srv))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if fn != nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			runLoop(ctx, p, fn, logger)
		}()
		mgr.Register("workload", func(shutdownCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-shutdownCtx.Done():
				return shutdownCtx.Err()
			}
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			cancel()
		}
	}()

	err = mgr.WaitWithContext(ctx)
	select {
	case sErr := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", sErr)
	default:
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runLoop(ctx context.Context, p *instrument.Profiler, fn workload.Func, logger *logging.Logger) {
	opts := workload.DefaultOptions()
	entry := workload.EntryName(fn)
	for {
		err := func() error {
			defer p.Track(entry)()
			return fn(ctx, p, opts)
		}()
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Workload run failed", map[string]interface{}{"error": err.Error()})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(serveInterval):
		}
	}
}
