package backend

import (
	"context"
	"fmt"
	"time"

	"catalograph/internal/config"
	"catalograph/internal/loader"
	"catalograph/internal/logger"
	"catalograph/internal/storage"
)

// Backend holds the graph store selected by configuration plus the run
// ledger when a PostgreSQL URL is configured.
type Backend struct {
	Store loader.Store
	// Runs is nil without PostgreSQL.
	Runs *storage.RunRepo
	// Counts is set for stores that can report per-label counts.
	Counts interface {
		Counts(ctx context.Context) (map[string]int, map[string]int, error)
	}

	closers []func(context.Context)
}

// Open connects the configured store. Call Close when done.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger) (*Backend, error) {
	if log == nil {
		log = logger.Nop()
	}
	b := &Backend{}

	var db *storage.DB
	if cfg.Postgres.URL != "" {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		var err error
		db, err = storage.NewDB(dctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) { db.Close() })
		b.Runs = storage.NewRunRepo(db)
	}

	switch cfg.Store.Backend {
	case config.BackendNeo4j:
		client, err := storage.NewNeo4jClient(ctx, cfg.Neo4jClientConfig(), log)
		if err != nil {
			b.Close(ctx)
			return nil, err
		}
		b.closers = append(b.closers, func(ctx context.Context) {
			if err := client.Close(ctx); err != nil {
				log.Warn("neo4j close failed", "error", err)
			}
		})
		b.Store = storage.NewNeo4jGraph(client)
	case config.BackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("store backend %s needs postgres.url", cfg.Store.Backend)
		}
		g := storage.NewPGGraph(db)
		b.Store, b.Counts = g, g
	case config.BackendMemory:
		b.Store = storage.NewMemGraph()
	default:
		b.Close(ctx)
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	log.Info("graph store ready", "backend", cfg.Store.Backend, "run_ledger", b.Runs != nil)
	return b, nil
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close(ctx context.Context) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i](ctx)
	}
	b.closers = nil
}
