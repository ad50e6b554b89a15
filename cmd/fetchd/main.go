package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fetchd/internal/cache"
	"fetchd/internal/config"
	"fetchd/internal/eventbus"
	"fetchd/internal/history"
	"fetchd/internal/maintenance"
	"fetchd/internal/queue"
	"fetchd/internal/runner"
	"fetchd/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	mgr.SetValidator(config.Validate)
	cfg, err := mgr.Load()
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		mgr.Commit(cfg)
	} else if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	defer logSvc.Close()
	mgr.SetLogger(log)

	bus := eventbus.New(log)
	bus.EnableAsync()
	defer bus.DisableAsync()

	// Cache namespaces share one database file, one table each.
	var tiered []*cache.Tiered
	for name, ns := range cfg.Cache.Namespaces {
		store, err := cache.OpenStore(cfg.Cache.Path, name, log)
		if err != nil {
			return fmt.Errorf("open cache %q: %w", name, err)
		}
		defer store.Close()
		ttl, _ := config.ParseDurationField("cache.default_ttl", ns.DefaultTTL)
		tiered = append(tiered, cache.NewTiered(name, store, cache.Options{
			MemorySize: ns.MemorySize,
			DefaultTTL: ttl,
		}, log))
	}

	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History.Path, log)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer hist.Close()
		rec := history.NewRecorder(hist, bus, log)
		rec.Attach()
		defer rec.Detach()
	}

	retention, _ := config.ParseDurationField("history.retention", cfg.History.Retention)
	maint := maintenance.New(maintenance.Config{
		Spec:             cfg.Maintenance.Spec,
		HistoryRetention: retention,
	}, log, tiered, hist)
	if err := maint.Start(); err != nil {
		return fmt.Errorf("start maintenance: %w", err)
	}
	defer maint.Stop()

	pollInterval, _ := config.ParseDurationField("queue.poll_interval", cfg.Queue.PollInterval)
	q := queue.New(queue.Config{
		MaxConcurrent:  cfg.Queue.MaxConcurrent,
		AutoStart:      cfg.Queue.AutoStart,
		PollInterval:   pollInterval,
		ProgressPerSec: cfg.Queue.ProgressPerSec,
	}, log, bus)
	dl := runner.New(runner.Config{Command: cfg.Runner.Command, Args: cfg.Runner.Args}, log)
	q.SetExecutor(dl.Exec)
	q.Start()

	// Live reload: logging level changes apply immediately; everything else
	// is announced so interested components can react.
	go func() { _ = mgr.Watch(ctx) }()
	cfgCh := mgr.Subscribe(1)
	defer mgr.Unsubscribe(cfgCh)
	go func() {
		for next := range cfgCh {
			logSvc.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File:    logx.FileConfig{Enabled: next.Logging.File.Enabled, Path: next.Logging.File.Path},
			})
			bus.Publish(eventbus.ConfigChanged, nil)
		}
	}()
	bus.Publish(eventbus.ConfigLoaded, map[string]any{"path": cfgPath})

	log.Info("fetchd started",
		logx.Int("max_concurrent", cfg.Queue.MaxConcurrent),
		logx.Int("cache_namespaces", len(tiered)),
		logx.Bool("history", hist != nil))

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	q.Stop(stopCtx)
	return nil
}
