// Command collector is the engine's entrypoint: it reads the config
// directory named by PULSEONE_HOME or --config, opens the repository
// and sinks, starts every enabled device's Worker through the Manager,
// and blocks until SIGINT/SIGTERM, per spec.md §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/pulseone-io/collector/internal/config"
	"github.com/pulseone-io/collector/internal/driver"
	"github.com/pulseone-io/collector/internal/factory"
	"github.com/pulseone-io/collector/internal/manager"
	"github.com/pulseone-io/collector/internal/repository"
	"github.com/pulseone-io/collector/internal/sink/cache"
	"github.com/pulseone-io/collector/internal/sink/history"
)

const (
	exitOK           = 0
	exitConfigError  = 1
	exitSchemaError  = 2
	exitStartupError = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var cfgDir string
	flag.StringVar(&cfgDir, "config", "", "path to the engine config directory (defaults to PULSEONE_HOME)")
	flag.Parse()

	if cfgDir == "" {
		cfgDir = os.Getenv("PULSEONE_HOME")
	}
	if cfgDir == "" {
		log.Print("no --config given and PULSEONE_HOME unset")
		return exitConfigError
	}

	cfg, err := config.Load(cfgDir)
	if err != nil {
		log.Printf("load config: %v", err)
		return exitConfigError
	}
	configureLogging(cfg)

	instanceID := uuid.NewString()
	log.Printf("starting collector instance=%s config=%s", instanceID, cfgDir)

	sqlitePath := cfg.SQLitePath
	if !filepath.IsAbs(sqlitePath) {
		sqlitePath = filepath.Join(cfgDir, sqlitePath)
	}

	repo, err := repository.Open(sqlitePath)
	if err != nil {
		log.Printf("open repository: %v", err)
		return exitSchemaError
	}
	defer repo.Close()

	cacheSink := cache.New()

	historyPath := filepath.Join(cfgDir, "history.jsonl")
	historySink, err := history.Open(historyPath, 256)
	if err != nil {
		log.Printf("open history sink: %v", err)
		return exitStartupError
	}
	defer historySink.Close()

	schemaPath := filepath.Join(cfgDir, "protocols.yaml")
	registry, err := driver.LoadConfigRegistry(schemaPath)
	if err != nil {
		log.Printf("load protocol schema overlay %s: %v", schemaPath, err)
		return exitConfigError
	}
	f := factory.New(repo, registry, cacheSink, historySink, schemaPath)
	mgr := manager.New(f, cacheSink, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Printf("received signal: %v, shutting down", s)
		cancel()
	}()

	if errs := mgr.StartAllActiveWorkers(ctx); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("start worker: %v", e)
		}
	}

	<-ctx.Done()

	statuses, counters := mgr.Snapshot()
	for _, st := range statuses {
		if err := mgr.StopWorker(st.DeviceID); err != nil {
			log.Printf("stop worker %s: %v", st.DeviceID, err)
		}
	}
	log.Printf("shutdown complete: started=%d stopped=%d errors=%d", counters.Started, counters.Stopped, counters.Errors)
	return exitOK
}

func configureLogging(cfg config.Config) {
	if cfg.LogPath == "" {
		return
	}
	f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("open log path %s: %v (logging to stderr)", cfg.LogPath, err)
		return
	}
	log.SetOutput(f)
	log.SetPrefix(fmt.Sprintf("[%s] ", cfg.LogLevel))
}
