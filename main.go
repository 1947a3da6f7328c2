package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/speedrun-hq/offramp-settler/pkg/config"
	"github.com/speedrun-hq/offramp-settler/pkg/settler"
)

func main() {
	envFile := flag.String("env", "", "path to an env file (defaults to .env)")
	checkOnly := flag.Bool("check-config", false, "validate the configuration and exit")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *checkOnly {
		log.Printf("Configuration valid: chain %d, %d bridge provider(s), %s record store",
			cfg.ChainID, len(cfg.Bridge.Providers), cfg.Store.Backend)
		return
	}

	// Cancelled on SIGINT/SIGTERM; the service drains and closes the record store
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := settler.NewService(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create settler service: %v", err)
	}

	log.Printf("Settling fulfilled intents on chain %d", cfg.ChainID)
	service.Start(ctx)
	log.Println("Settler stopped")
}
