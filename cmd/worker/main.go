package main

import (
	"context"
	"log"

	"catalograph/internal/activities"
	"catalograph/internal/backend"
	"catalograph/internal/config"
	"catalograph/internal/logger"
	"catalograph/internal/workflows"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	lg, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer lg.Sync()

	c, err := client.Dial(client.Options{HostPort: cfg.Temporal.Address})
	if err != nil {
		lg.Error("temporal dial failed", "address", cfg.Temporal.Address, "error", err)
		return
	}
	defer c.Close()

	ctx := context.Background()
	b, err := backend.Open(ctx, cfg, lg)
	if err != nil {
		lg.Error("open backend failed", "error", err)
		return
	}
	defer b.Close(ctx)

	var runs activities.RunRecorder
	if b.Runs != nil {
		runs = b.Runs
	}
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	workflows.Register(w)
	activities.Register(w, activities.New(cfg, b.Store, runs, lg))

	lg.Info("catalograph worker listening", "address", cfg.Temporal.Address, "queue", cfg.Temporal.TaskQueue, "backend", cfg.Store.Backend)
	if err := w.Run(worker.InterruptCh()); err != nil {
		lg.Error("worker stopped", "error", err)
	}
}
