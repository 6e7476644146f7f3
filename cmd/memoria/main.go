package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sundial-labs/memoria/internal/config"
	"github.com/sundial-labs/memoria/internal/logging"
	"github.com/sundial-labs/memoria/internal/memory"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: memoria [-config path] <command>

commands:
  init      create the database and bring the schema up to date
  migrate   apply pending schema migrations and print the version
  stats     print pool, cache, and index statistics as JSON
  health    print the health report as JSON (exit 1 when degraded)`)
	os.Exit(2)
}

func main() {
	// Load .env file (optional - won't error if missing)
	if err := godotenv.Load(); err == nil {
		log.Println("[config] Loaded .env file")
	}

	args := os.Args[1:]
	configPath := os.Getenv("MEMORIA_CONFIG")
	if len(args) >= 2 && args[0] == "-config" {
		configPath = args[1]
		args = args[2:]
	}
	if len(args) != 1 {
		usage()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	svc := memory.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if err := svc.Initialize(ctx); err != nil {
		log.Fatalf("[memoria] failed to initialize: %v", err)
	}
	defer svc.Shutdown()

	switch args[0] {
	case "init":
		log.Printf("[memoria] database ready at %s", cfg.Database.URL)

	case "migrate":
		// Initialize already ran pending migrations; report where we landed.
		h := svc.HealthCheck(ctx)
		if h.Status != "ok" {
			log.Fatalf("[memoria] migration check failed: %s", h.Error)
		}
		log.Printf("[memoria] schema at version %d", h.SchemaVersion)

	case "stats":
		stats, err := svc.GetStats(ctx)
		if err != nil {
			log.Fatalf("[memoria] stats failed: %v", err)
		}
		printJSON(stats)

	case "health":
		h := svc.HealthCheck(ctx)
		printJSON(h)
		if h.Status != "ok" {
			svc.Shutdown()
			os.Exit(1)
		}

	default:
		usage()
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("[memoria] failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}
