package main

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/term"

	"go.jacobcolvin.com/pyroagent/agent"
	"go.jacobcolvin.com/pyroagent/ingest"
	"go.jacobcolvin.com/pyroagent/log"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	agent          *agent.Config
	log            *log.Config
	configFile     string
	metricsAddress string
	duration       time.Duration
	workload       bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{
		agent: agent.NewConfig(),
		log:   log.NewConfig(),
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Profile this process and upload the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML config file; explicit flags override it")
	flags.StringVar(&opts.metricsAddress, "metrics-address", "",
		"serve Prometheus metrics on this address (disabled when empty)")
	flags.DurationVar(&opts.duration, "duration", 0, "stop after this long (0 = until interrupted)")
	flags.BoolVar(&opts.workload, "workload", false, "burn CPU with a demo workload while profiling")

	opts.agent.RegisterFlags(flags)
	opts.log.RegisterFlags(flags)

	for _, register := range []func(*cobra.Command) error{
		opts.agent.RegisterCompletions,
		opts.log.RegisterCompletions,
	} {
		err := register(cmd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "register completions: %v\n", err)
		}
	}

	return cmd
}

func (o *runOptions) run(cmd *cobra.Command) error {
	if o.configFile != "" {
		err := o.agent.LoadFile(o.configFile, cmd.Flags())
		if err != nil {
			return err
		}
	}

	stderr := cmd.ErrOrStderr()

	// Aligned text is for people; default to logfmt when nobody is watching.
	if !cmd.Flags().Changed(o.log.Flags.Format) && !isTerminal(stderr) {
		o.log.Format = string(log.FormatLogfmt)
	}

	logger, err := o.log.NewLogger(stderr, "agent")
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Uploads are traced through the global OpenTelemetry provider, which is
	// a no-op unless the embedding process installs one.
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	a, err := o.agent.NewAgent(
		agent.WithLogger(logger),
		agent.WithRegisterer(reg),
		agent.WithIngestOptions(ingest.WithHTTPClient(httpClient)),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.duration > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}

	if o.metricsAddress != "" {
		srv, err := serveMetrics(o.metricsAddress, reg, logger)
		if err != nil {
			return err
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			err := srv.Shutdown(shutdownCtx)
			if err != nil {
				logger.Warn("metrics server shutdown", slog.Any("error", err))
			}
		}()
	}

	err = a.Start()
	if err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	if o.workload {
		go burn(ctx)
	}

	// A run that ends on its own (the capture could not start or broke)
	// is reported right away rather than at the next signal.
	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	err = a.Stop()
	if err != nil {
		return fmt.Errorf("stopping agent: %w", err)
	}

	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", otelhttp.NewHandler(
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		"metrics",
	))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", slog.Any("error", err))
		}
	}()

	logger.Info("serving metrics", slog.String("address", ln.Addr().String()))

	return srv, nil
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)

	return ok && term.IsTerminal(int(f.Fd())) //nolint:gosec // File descriptors fit in int.
}
