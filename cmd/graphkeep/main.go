// Command graphkeep runs the knowledge-graph store as a long-lived process:
// it opens the database, starts the partition maintenance loop, and serves a
// periodic health log line until interrupted.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/graphkeep/graphkeep/internal/config"
	"github.com/graphkeep/graphkeep/internal/storage/sqlite"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to YAML config file")
		database   = pflag.StringP("database", "d", "", "database path (overrides config)")
		healthTick = pflag.Duration("health-interval", 5*time.Minute, "interval between health log lines (0 disables)")
	)
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("graphkeep: %v", err)
	}
	if *database != "" {
		cfg.Storage.DatabaseURL = *database
	}

	if err := run(cfg, *healthTick); err != nil {
		log.Fatalf("graphkeep: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfigFromFile(path)
	}
	return config.LoadConfig()
}

func run(cfg *config.Config, healthTick time.Duration) error {
	store, err := sqlite.Open(cfg.Storage.DatabaseURL, sqlite.Options{
		PoolSize:          cfg.Pool.Size,
		AcquireTimeout:    cfg.Pool.AcquireTimeout,
		StatementCapacity: cfg.Cache.StatementCapacity,
		ResultCapacity:    cfg.Cache.ResultCapacity,
		ResultTTL:         cfg.Cache.ResultTTL,
		SweepInterval:     cfg.Cache.SweepInterval,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("graphkeep: close: %v", err)
		}
	}()
	log.Printf("graphkeep: store open at %s (pool=%d)", cfg.Storage.DatabaseURL, cfg.Pool.Size)

	var maintainer *sqlite.Maintainer
	if cfg.Partition.Enabled {
		maintainer = sqlite.NewMaintainer(store, cfg.Partition.MaintenanceInterval)
		maintainer.Start()
		defer maintainer.Stop()
		log.Printf("graphkeep: partition maintenance every %s", cfg.Partition.MaintenanceInterval)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var health <-chan time.Time
	if healthTick > 0 {
		ticker := time.NewTicker(healthTick)
		defer ticker.Stop()
		health = ticker.C
	}

	for {
		select {
		case s := <-sig:
			log.Printf("graphkeep: received %s, shutting down", s)
			return nil
		case <-health:
			logHealth(store)
		}
	}
}

func logHealth(store *sqlite.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h := store.Health(ctx)
	if h.Status != "healthy" {
		log.Printf("graphkeep: health=%s error=%q", h.Status, h.Error)
		return
	}
	log.Printf("graphkeep: health=%s probe=%s size=%dB pool=%d/%d timeouts=%d",
		h.Status, h.ResponseTime.Round(time.Microsecond), h.DatabaseSizeBytes,
		h.Pool.Active, h.Pool.Max, h.Pool.Timeouts)
}
