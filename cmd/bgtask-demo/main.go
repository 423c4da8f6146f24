// Package main implements the bgtask demo daemon: it runs a Gaussian
// sampling generator in a background worker process, polls its results on
// a cadence, collects the worker's forwarded log records, and exposes the
// live task over the HTTP monitor.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/phrazzld/bgtask/internal/config"
	"github.com/phrazzld/bgtask/internal/ledger"
	"github.com/phrazzld/bgtask/internal/monitor"
	"github.com/phrazzld/bgtask/internal/platform/logger"
	"github.com/phrazzld/bgtask/internal/platform/postgres"
	"github.com/phrazzld/bgtask/internal/taskproxy"
)

func main() {
	registerGenerators()

	// Worker processes re-enter this binary; hand them off before any
	// daemon setup runs.
	if taskproxy.IsWorker() {
		os.Exit(taskproxy.RunWorker())
	}

	if err := run(); err != nil {
		log.Fatalf("bgtask-demo failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logg, err := logger.Setup(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	logg.Info("configuration loaded",
		"log_level", cfg.Logging.Level,
		"monitor_port", cfg.Monitor.Port,
		"collector_addr", cfg.Collector.Addr,
		"ledger_enabled", cfg.Database.URL != "")

	opts := []taskproxy.Option{taskproxy.WithLogger(logg)}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(cfg.Database.URL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if err := postgres.Migrate(db); err != nil {
			return err
		}
		var l ledger.Ledger = postgres.NewRunLedger(db)
		opts = append(opts, taskproxy.WithLedger(l))
	}

	if cfg.Collector.Addr != "" {
		collector, err := logger.StartCollector(cfg.Collector.Addr, logg.With("source", "worker"))
		if err != nil {
			return fmt.Errorf("failed to start log collector: %w", err)
		}
		defer func() { _ = collector.Close() }()
		opts = append(opts, taskproxy.WithLogForwarding(collector.Addr()))
	}

	tracker := monitor.NewTracker()
	if cfg.Monitor.Port > 0 {
		server := &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Monitor.Port),
			Handler: monitor.Router(tracker, logg),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logg.Error("monitor server stopped", "error", err)
			}
		}()
		defer func() { _ = server.Close() }()
		logg.Info("monitor listening", "addr", server.Addr)
	}

	task, err := taskproxy.New("background-sampling", gaussianSamplesName, sampleArgs{
		Mu:    5.0,
		Sigma: 3.0,
		Steps: 100,
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	tracker.Add(task)
	defer func() { _ = task.Close() }()

	pollResults(task, cfg, logg)

	logg.Info("cancelling task")
	task.Cancel(cfg.Task.CancelTimeout)
	logg.Info("task done",
		"completed", task.Completed(),
		"canceled", task.Canceled())
	return nil
}

// pollResults drains the task on the configured cadence until it finishes
// or the maximal duration elapses, logging each sample as it arrives.
func pollResults(task *taskproxy.TaskProxy, cfg *config.Config, logg *slog.Logger) {
	deadline := time.Now().Add(cfg.Task.MaxDuration)
	ticker := time.NewTicker(cfg.Task.PollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		raw, err := task.Fetch()
		if err != nil {
			logg.Error("task failed", "error", err)
			return
		}
		samples, err := taskproxy.DecodeItems[sample](raw)
		if err != nil {
			logg.Error("failed to decode samples", "error", err)
			return
		}
		for _, s := range samples {
			logg.Info(fmt.Sprintf("[%3.0f%%] %0.2f", s.Progress*100, s.Value))
		}

		if task.Completed() {
			return
		}
		<-ticker.C
	}
}
