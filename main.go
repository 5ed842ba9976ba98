package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gokpi/internal/api"
	"gokpi/internal/config"
	"gokpi/internal/container"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	appConfig, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appContainer, err := container.New(ctx, appConfig)
	if err != nil {
		log.Fatalf("Failed to create application container: %v", err)
	}
	defer appContainer.Shutdown(context.Background())

	// Fail fast on a broken catalog override rather than on the first request
	cat, err := appContainer.Catalog.LoadCatalog(ctx)
	if err != nil {
		log.Fatalf("Failed to load metric catalog: %v", err)
	}
	log.Printf("Metric catalog loaded: %d metrics (%s)", cat.Len(), cat.Fingerprint())

	server := api.NewServer(appConfig.Server, api.Deps{
		KPI:      appContainer.KPI,
		Reports:  appContainer.Reports,
		Catalog:  appContainer.Catalog,
		Recorder: appContainer.Recorder,
	})

	log.Printf("Starting GoKPI server on port %s", appConfig.Server.Port)
	if err := server.Start(ctx, appConfig.Server.Port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
