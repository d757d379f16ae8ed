package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
	"github.com/tiger/agent-slo-pipeline/internal/collector"
	"github.com/tiger/agent-slo-pipeline/internal/config"
	"github.com/tiger/agent-slo-pipeline/internal/contract"
	"github.com/tiger/agent-slo-pipeline/internal/export"
	"github.com/tiger/agent-slo-pipeline/internal/privacy"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr, time.Now); err != nil {
		fmt.Fprintf(os.Stderr, "aslo-collector: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer, _ io.Writer, now func() time.Time) error {
	if len(args) > 0 {
		switch args[0] {
		case "help", "-h", "--help":
			printUsage(stdout)
			return nil
		case "schemas":
			return printSchemas(stdout)
		case "serve":
			args = args[1:]
		}
	}
	return serve(args, stdout, now)
}

func serve(args []string, stdout io.Writer, now func() time.Time) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("aslo-collector", flag.ContinueOnError)
	listen := fs.String("listen", cfg.ListenAddr, "listen address for event intake")
	metrics := fs.Bool("metrics", true, "expose /metrics")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !cfg.CollectorEnabled {
		_, _ = fmt.Fprintln(stdout, "aslo-collector: intake disabled via "+config.EnvCollectorEnabled)
		return nil
	}

	registry, err := contract.NewDefaultRegistry()
	if err != nil {
		return fmt.Errorf("schema registry: %w", err)
	}

	enforcer, err := privacy.NewEnforcer(privacy.DefaultPolicy())
	if err != nil {
		return fmt.Errorf("privacy policy: %w", err)
	}

	sink, err := buildSink(cfg)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	pipeline, err := collector.New(collector.Config{
		Registry:      registry,
		Enforcer:      enforcer,
		ExportSink:    sink,
		Metrics:       collector.NewMetrics(promRegistry),
		Workers:       cfg.Workers,
		QueueCapacity: cfg.QueueCapacity,
		ExportTimeout: time.Duration(cfg.ExportTimeoutMS) * time.Millisecond,
		Now:           now,
	})
	if err != nil {
		return fmt.Errorf("collector pipeline: %w", err)
	}
	defer func() { _ = pipeline.Close() }()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/events", intakeHandler(pipeline))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pipeline.Stats())
	})
	if *metrics {
		mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}

	server := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		_, _ = fmt.Fprintf(stdout, "aslo-collector: listening on %s\n", *listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	_, _ = fmt.Fprintln(stdout, "aslo-collector: drained and stopped")
	return nil
}

// intakeHandler accepts one event per POST and acknowledges immediately.
// Validation verdicts surface through /v1/stats and /metrics, never as
// intake latency.
func intakeHandler(pipeline *collector.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var event telemetry.Event
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&event); err != nil {
			http.Error(w, fmt.Sprintf("malformed event: %v", err), http.StatusBadRequest)
			return
		}
		pipeline.Submit(event)
		w.WriteHeader(http.StatusAccepted)
	}
}

func buildSink(cfg config.Runtime) (export.Sink, error) {
	switch {
	case cfg.OTLPHTTPEndpoint != "":
		return export.NewOTLPHTTPSink(export.OTLPHTTPSinkConfig{
			Endpoint: cfg.OTLPHTTPEndpoint,
			Client:   &http.Client{Timeout: time.Duration(cfg.ExportTimeoutMS) * time.Millisecond},
		})
	case cfg.JSONLPath != "":
		return &export.JSONLFileSink{Path: cfg.JSONLPath}, nil
	default:
		return export.DiscardSink{}, nil
	}
}

func printSchemas(stdout io.Writer) error {
	registry, err := contract.NewDefaultRegistry()
	if err != nil {
		return err
	}
	for _, eventType := range registry.ListEventTypes() {
		_, _ = fmt.Fprintln(stdout, eventType)
	}
	return nil
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "aslo-collector usage:")
	_, _ = fmt.Fprintln(w, "  aslo-collector [serve] [-listen addr] [-metrics=true]")
	_, _ = fmt.Fprintln(w, "  aslo-collector schemas")
	_, _ = fmt.Fprintln(w, "Environment:")
	_, _ = fmt.Fprintln(w, "  "+config.EnvCollectorListenAddr+", "+config.EnvCollectorQueueCapacity+", "+config.EnvCollectorWorkers)
	_, _ = fmt.Fprintln(w, "  "+config.EnvExportOTLPHTTPEndpoint+", "+config.EnvExportJSONLPath+", "+config.EnvExportTimeoutMS)
}
