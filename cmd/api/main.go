package main

import (
	"context"
	"log"
	"net/http"

	"catalograph/internal/api"
	"catalograph/internal/config"
	"catalograph/internal/logger"
	"catalograph/internal/storage"

	"github.com/joho/godotenv"
	tclient "go.temporal.io/sdk/client"
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

	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.Temporal.Address})
	if err != nil {
		lg.Error("temporal dial failed", "address", cfg.Temporal.Address, "error", err)
		return
	}
	defer tc.Close()

	var runs api.RunStore
	var counter api.GraphCounter
	if cfg.Postgres.URL != "" {
		db, err := storage.NewDB(context.Background(), cfg.Postgres.URL)
		if err != nil {
			lg.Error("connect postgres failed", "error", err)
			return
		}
		defer db.Close()
		runs = storage.NewRunRepo(db)
		if cfg.Store.Backend == config.BackendPostgres {
			counter = storage.NewPGGraph(db)
		}
	}

	h := api.NewServer(cfg, tc, runs, counter, lg)
	lg.Info("catalograph api listening", "addr", cfg.API.Addr, "backend", cfg.Store.Backend)
	if err := http.ListenAndServe(cfg.API.Addr, h.Routes()); err != nil {
		lg.Error("api stopped", "error", err)
	}
}
