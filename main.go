package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"healthloop/domain/core"
	"healthloop/internal/api"
	"healthloop/internal/config"
	"healthloop/internal/container"
)

// main runs the HTTP API and, unless RUN_INTERVAL is zero, the periodic
// batch over every active user
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
	defer appContainer.Close()

	server := api.NewServer(appContainer.Service, appContainer.Scheduler, appContainer.Prometheus, appContainer.Logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, ":"+appConfig.Server.Port, appConfig.Server.ReadTimeout, appConfig.Server.WriteTimeout)
	})
	if interval := appConfig.Analysis.RunInterval; interval > 0 {
		g.Go(func() error {
			return appContainer.Scheduler.Every(ctx, interval, core.Today)
		})
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("Server stopped: %v", err)
	}
	log.Println("Shut down cleanly")
}
