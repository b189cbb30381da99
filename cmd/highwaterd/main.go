// highwaterd is the incremental aggregation daemon.
//
// It maintains hourly per-category price highs over a stream of trade
// records, serves the committed diff stream and submits over websockets,
// and periodically exports the materialized table to Parquet snapshots.
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

	"github.com/xtxerr/highwater/config"
	"github.com/xtxerr/highwater/internal/logging"
	"github.com/xtxerr/highwater/internal/pipeline"
	"github.com/xtxerr/highwater/internal/server"
	"github.com/xtxerr/highwater/internal/sink"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	genFlag := flag.Bool("generate", false, "run the synthetic generator on startup")
	genTrades := flag.Int("generate-trades", 0, "generator trade count (overrides config)")
	logDiffs := flag.Bool("log-diffs", false, "log every emitted aggregate diff")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("highwaterd %s\n", Version)
		return
	}

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// Load wraps the open error, so unwrap with errors.Is.
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Enabled = true
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *genFlag {
		cfg.Generator.Enabled = true
	}
	if *genTrades > 0 {
		cfg.Generator.Trades = *genTrades
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.JSON)
	log := logging.Component("main")
	log.Info("highwaterd starting", "version", Version, "data_dir", cfg.DataDir)

	// =========================================================================
	// Pipeline
	// =========================================================================

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Error("create pipeline", "error", err)
		os.Exit(1)
	}
	if *logDiffs {
		p.AttachSink(sink.NewLogSink())
	}

	// =========================================================================
	// Server
	// =========================================================================

	var srv *server.Server
	if cfg.Server.Enabled {
		srv = server.New(cfg.Server, p)
		p.AttachSink(srv)
	}

	if err := p.Start(); err != nil {
		log.Error("start pipeline", "error", err)
		os.Exit(1)
	}
	if srv != nil {
		if err := srv.Start(); err != nil {
			log.Error("start server", "error", err)
			p.Stop()
			os.Exit(1)
		}
	}

	// =========================================================================
	// Signal handling and graceful shutdown
	// =========================================================================

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		log.Info("shutting down", "signal", s.String())
		cancel()
	}()

	// =========================================================================
	// Run
	// =========================================================================

	if cfg.Generator.Enabled {
		if err := p.RunGenerator(ctx); err != nil && ctx.Err() == nil {
			log.Error("generator failed", "error", err)
		}
		// Export the final table before exit when snapshots are on.
		if cfg.Snapshot.Enabled {
			if path, err := p.Snapshot(); err != nil {
				log.Warn("final snapshot failed", "error", err)
			} else if path != "" {
				log.Info("final snapshot written", "path", path)
			}
		}
		if srv == nil {
			cancel()
		}
	}

	<-ctx.Done()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Warn("server stop", "error", err)
		}
		shutdownCancel()
	}
	if err := p.Stop(); err != nil {
		log.Warn("pipeline stop", "error", err)
	}
	log.Info("highwaterd stopped")
}
