// Command traceflowd runs the DAG execution engine's HTTP control plane.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/swarmguard/traceflow/internal/graphstore"
	"github.com/swarmguard/traceflow/internal/node"
	"github.com/swarmguard/traceflow/internal/nodeset"
	"github.com/swarmguard/traceflow/internal/orchestrator"
	"github.com/swarmguard/traceflow/internal/platform/logging"
	"github.com/swarmguard/traceflow/internal/platform/otelinit"
	"github.com/swarmguard/traceflow/internal/scheduler"
	"github.com/swarmguard/traceflow/internal/sink"
)

const serviceName = "traceflow"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Init(serviceName)
	shutdownTracer := otelinit.InitTracer(ctx, serviceName)
	metricsShutdown, _ := otelinit.InitMetrics(ctx, serviceName)

	cfg := loadConfig()

	registry := node.NewRegistry()
	if err := nodeset.RegisterDefaults(registry, nodeset.EchoTextGenerator); err != nil {
		slog.Error("register default nodes", "error", err)
		os.Exit(1)
	}

	// A single *sql.DB is opened here and shared between the SQLiteSink and
	// the trace Recorder (via orchestrator.Config/New) rather than each
	// opening its own connection to the same file: the pure-Go driver
	// pins a handle to one connection, so two handles on one file would
	// otherwise serialize against each other and risk SQLITE_BUSY under
	// concurrent runs.
	var db *sql.DB
	if cfg.sqliteEnabled {
		h, err := sink.OpenSQLiteDB(cfg.sqlitePath)
		if err != nil {
			slog.Warn("sqlite trace mirror disabled", "error", err)
		} else {
			db = h
		}
	}

	sinks, err := sink.BuildFromConfig(sink.Config{
		JSONLEnabled:  cfg.jsonlEnabled,
		JSONLPath:     cfg.jsonlPath,
		SQLiteEnabled: cfg.sqliteEnabled && db != nil,
		SQLitePath:    cfg.sqlitePath,
		SQLiteDB:      db,
		StreamEnabled: cfg.streamEnabled,
		StreamURL:     cfg.streamURL,
	})
	if err != nil {
		slog.Error("build sinks", "error", err)
		os.Exit(1)
	}

	orch := orchestrator.New(orchestrator.Config{
		WorkerPoolSize: cfg.workerPoolSize,
		QueueSize:      cfg.queueSize,
		RunDeadline:    cfg.runDeadline,
		CaptureIO:      cfg.captureIO,
		TraceDir:       cfg.jsonlPath,
	}, registry, db, sinks)

	defaultGraph := nodeset.BuildDefaultGraph(registry)
	if err := orch.RegisterGraph(defaultGraph); err != nil {
		slog.Error("register default graph", "error", err)
		os.Exit(1)
	}

	store, err := graphstore.Open(cfg.graphStorePath)
	if err != nil {
		slog.Warn("graph store disabled", "error", err)
	} else {
		defer store.Close()
		if defs, err := store.ListGraphs(); err == nil {
			for _, def := range defs {
				g := def.Build(registry)
				if err := orch.RegisterGraph(g); err != nil {
					slog.Warn("skipping invalid persisted graph", "graph", def.Name, "error", err)
				}
			}
		}
	}

	orch.Start()

	sched := scheduler.New(orch, store)
	if err := sched.RestoreSchedules(); err != nil {
		slog.Warn("restore schedules", "error", err)
	}
	sched.Start()

	mux := http.NewServeMux()
	mux.Handle("/", orch.Handler())
	mux.Handle("/schedules", sched.Handler())
	mux.Handle("/schedules/", sched.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		slog.Info("http server listening", "addr", cfg.httpAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = sched.Stop(shutdownCtx)
	_ = orch.Stop(shutdownCtx)
	_ = sinks.Close()
	if db != nil {
		_ = db.Close()
	}

	otelinit.Flush(shutdownCtx, shutdownTracer)
	otelinit.Flush(shutdownCtx, metricsShutdown)
}

type config struct {
	jsonlEnabled  bool
	jsonlPath     string
	sqliteEnabled bool
	sqlitePath    string
	streamEnabled bool
	streamURL     string

	workerPoolSize int
	queueSize      int
	runDeadline    time.Duration
	captureIO      bool
	httpAddr       string
	graphStorePath string
}

func loadConfig() config {
	return config{
		jsonlEnabled:  envBool("TRACEFLOW_JSONL_ENABLED", true),
		jsonlPath:     envStr("TRACEFLOW_JSONL_PATH", "data/traces"),
		sqliteEnabled: envBool("TRACEFLOW_SQLITE_ENABLED", true),
		sqlitePath:    envStr("TRACEFLOW_SQLITE_PATH", "data/traceflow.db"),
		streamEnabled: envBool("TRACEFLOW_STREAM_ENABLED", false),
		streamURL:     envStr("TRACEFLOW_STREAM_URL", "nats://127.0.0.1:4222"),

		workerPoolSize: envInt("TRACEFLOW_WORKER_POOL_SIZE", 4),
		queueSize:      envInt("TRACEFLOW_QUEUE_SIZE", 64),
		runDeadline:    envDuration("TRACEFLOW_RUN_DEADLINE", 0),
		captureIO:      envBool("TRACEFLOW_CAPTURE_IO", true),
		httpAddr:       envStr("TRACEFLOW_HTTP_ADDR", ":8080"),
		graphStorePath: envStr("TRACEFLOW_GRAPHSTORE_PATH", filepath.Join("data", "graphs.db")),
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
