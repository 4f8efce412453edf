package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalograph/internal/graph"
	"catalograph/internal/logger"
	"catalograph/internal/table"
	"catalograph/internal/util"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	BatchSize               int
	Retries                 int
	EntityConcurrency       int
	RelationshipConcurrency int
	InitialBackoff          time.Duration
	MaxBackoff              time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.EntityConcurrency <= 0 {
		o.EntityConcurrency = 4
	}
	if o.RelationshipConcurrency <= 0 {
		o.RelationshipConcurrency = 1
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	return o
}

// RowSource yields the rows of one table when its load starts.
type RowSource func(ctx context.Context) ([]table.Row, error)

type EntityJob struct {
	Name string
	Kind graph.Kind
	Rows RowSource
}

type RelationshipJob struct {
	Name  string
	Start graph.Kind
	End   graph.Kind
	Label string
	Rows  RowSource
}

func EntityJobFor(t *table.EntityTable) EntityJob {
	return EntityJob{Name: t.Name, Kind: t.Kind, Rows: func(context.Context) ([]table.Row, error) { return t.Rows, nil }}
}

func RelationshipJobFor(t *table.RelationshipTable) RelationshipJob {
	return RelationshipJob{Name: t.Name, Start: t.Start, End: t.End, Label: t.Label, Rows: func(context.Context) ([]table.Row, error) { return t.Rows, nil }}
}

type Plan struct {
	Entities      []EntityJob
	Relationships []RelationshipJob
	Properties    []PropertyRelationship
}

// EntityKinds returns the kinds with at least one entity job, in first-seen
// order.
func (p Plan) EntityKinds() []graph.Kind {
	seen := map[graph.Kind]struct{}{}
	var out []graph.Kind
	for _, j := range p.Entities {
		if _, ok := seen[j.Kind]; ok {
			continue
		}
		seen[j.Kind] = struct{}{}
		out = append(out, j.Kind)
	}
	return out
}

type Loader struct {
	store Store
	opts  Options
	log   *logger.Logger
}

func New(store Store, opts Options, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.Nop()
	}
	return &Loader{store: store, opts: opts.withDefaults(), log: log}
}

// SetupSchema creates a uniqueness constraint and an index on id for every
// label behind kinds.
func (l *Loader) SetupSchema(ctx context.Context, kinds []graph.Kind) error {
	for _, label := range graph.Labels(kinds) {
		for _, k := range []SchemaKind{SchemaUnique, SchemaIndex} {
			stmt := SchemaStatement{Kind: k, Label: label, Property: table.ColID}
			if err := l.store.ApplySchema(ctx, stmt); err != nil {
				return fmt.Errorf("apply %s schema on %s: %w", k, label, err)
			}
		}
	}
	l.log.Info("schema ready", "kinds", len(kinds))
	return nil
}

// LoadEntities merges one entity table batch by batch. Failed batches are
// counted and returned joined; later batches still run.
func (l *Loader) LoadEntities(ctx context.Context, job EntityJob) (TableStats, error) {
	st := TableStats{Name: job.Name, Phase: PhaseEntities}
	rows, err := job.Rows(ctx)
	if err != nil {
		st.Error = err.Error()
		return st, fmt.Errorf("read entity table %s: %w", job.Name, err)
	}
	label := job.Kind.Label()
	err = l.batches(ctx, &st, rows, func(ctx context.Context, batch []table.Row) (int, error) {
		return l.store.MergeEntities(ctx, label, batch)
	})
	return st, err
}

// LoadRelationships merges one relationship table. It fails immediately if
// either endpoint kind has not committed in barrier.
func (l *Loader) LoadRelationships(ctx context.Context, barrier *Barrier, job RelationshipJob) (TableStats, error) {
	st := TableStats{Name: job.Name, Phase: PhaseRelationships}
	if err := barrier.Check(job.Start, job.End); err != nil {
		st.Skipped = true
		st.Error = err.Error()
		return st, fmt.Errorf("relationship table %s: %w", job.Name, err)
	}
	return l.loadRelationships(ctx, st, job)
}

func (l *Loader) loadRelationships(ctx context.Context, st TableStats, job RelationshipJob) (TableStats, error) {
	rows, err := job.Rows(ctx)
	if err != nil {
		st.Error = err.Error()
		return st, fmt.Errorf("read relationship table %s: %w", job.Name, err)
	}
	edge := EdgeSpec{StartLabel: job.Start.Label(), EndLabel: job.End.Label(), Type: job.Label}
	err = l.batches(ctx, &st, rows, func(ctx context.Context, batch []table.Row) (int, error) {
		n, err := l.store.MergeRelationships(ctx, edge, batch)
		if err == nil && n < len(batch) {
			st.Unmatched += len(batch) - n
		}
		return n, err
	})
	if st.Unmatched > 0 {
		l.log.Warn("relationship rows without endpoints", "table", job.Name, "unmatched", st.Unmatched)
	}
	return st, err
}

// LinkProperties evaluates property-matched relationships. A relationship is
// skipped when one of its kinds failed its entity phase.
func (l *Loader) LinkProperties(ctx context.Context, barrier *Barrier, rels []PropertyRelationship) ([]TableStats, error) {
	out := make([]TableStats, 0, len(rels))
	var errs []error
	for _, rel := range rels {
		st := TableStats{Name: rel.Name(), Phase: PhaseProperties}
		if barrier != nil && (barrier.Failed(rel.Start) || barrier.Failed(rel.End)) {
			st.Skipped = true
			st.Error = ErrEntityPhaseIncomplete.Error()
			out = append(out, st)
			errs = append(errs, fmt.Errorf("property relationship %s: %w", rel.Name(), ErrEntityPhaseIncomplete))
			continue
		}
		st.Batches = 1
		n, err := l.retry(ctx, func(ctx context.Context) (int, error) { return l.store.LinkByProperty(ctx, rel) }, nil)
		if err != nil {
			st.FailedBatches = 1
			st.Error = err.Error()
			errs = append(errs, fmt.Errorf("property relationship %s: %w", rel.Name(), err))
		}
		st.Applied = n
		out = append(out, st)
		l.log.Info("property relationship linked", "name", rel.Name(), "applied", n)
	}
	return out, errors.Join(errs...)
}

// Run executes the full protocol: schema, entity phase (parallel across
// kinds, serial within a kind), relationship phase gated per kind by the
// barrier, then property-matched relationships.
func (l *Loader) Run(ctx context.Context, plan Plan) (*Stats, error) {
	stats := &Stats{}
	kinds := plan.EntityKinds()
	if err := l.SetupSchema(ctx, kinds); err != nil {
		return stats, err
	}

	barrier := NewBarrier(kinds...)
	byKind := map[graph.Kind][]EntityJob{}
	for _, j := range plan.Entities {
		byKind[j.Kind] = append(byKind[j.Kind], j)
	}

	errCh := make(chan error, len(plan.Entities)+len(plan.Relationships))
	var entities errgroup.Group
	entities.SetLimit(l.opts.EntityConcurrency)
	for _, k := range kinds {
		jobs := byKind[k]
		kind := k
		entities.Go(func() error {
			var kindErr error
			for _, j := range jobs {
				st, err := l.LoadEntities(ctx, j)
				stats.add(st)
				l.logTable(st)
				if err != nil {
					kindErr = errors.Join(kindErr, err)
					errCh <- err
				}
			}
			if kindErr != nil {
				barrier.Fail(kind, kindErr)
				return nil
			}
			barrier.Commit(kind)
			return nil
		})
	}

	var rels errgroup.Group
	rels.SetLimit(l.opts.RelationshipConcurrency)
	for _, j := range plan.Relationships {
		job := j
		rels.Go(func() error {
			st := TableStats{Name: job.Name, Phase: PhaseRelationships}
			if err := barrier.Wait(ctx, job.Start, job.End); err != nil {
				st.Skipped = true
				st.Error = err.Error()
				stats.add(st)
				l.logTable(st)
				errCh <- fmt.Errorf("relationship table %s: %w", job.Name, err)
				return nil
			}
			st, err := l.loadRelationships(ctx, st, job)
			stats.add(st)
			l.logTable(st)
			if err != nil {
				errCh <- err
			}
			return nil
		})
	}

	_ = entities.Wait()
	_ = rels.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	if len(plan.Properties) > 0 && ctx.Err() == nil {
		pst, err := l.LinkProperties(ctx, barrier, plan.Properties)
		for _, s := range pst {
			stats.add(s)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	t := stats.Totals()
	l.log.Info("load finished", "tables", t.Tables, "rows", t.Rows, "applied", t.Applied,
		"failed_batches", t.FailedBatches, "unmatched", t.Unmatched, "skipped", t.Skipped)
	return stats, errors.Join(errs...)
}

func (l *Loader) logTable(st TableStats) {
	kv := []any{"table", st.Name, "phase", st.Phase, "rows", st.Rows, "batches", st.Batches,
		"failed", st.FailedBatches, "applied", st.Applied, "unmatched", st.Unmatched}
	if st.Skipped || st.FailedBatches > 0 {
		l.log.Warn("table loaded with errors", append(kv, "error", st.Error)...)
		return
	}
	l.log.Info("table loaded", kv...)
}

func (l *Loader) batches(ctx context.Context, st *TableStats, rows []table.Row, fn func(context.Context, []table.Row) (int, error)) error {
	st.Rows = len(rows)
	var errs []error
	for i, batch := range util.Batches(rows, l.opts.BatchSize) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		st.Batches++
		attempts := 0
		n, err := l.retry(ctx, func(ctx context.Context) (int, error) { return fn(ctx, batch) }, &attempts)
		if err != nil {
			st.FailedBatches++
			be := &BatchError{Table: st.Name, Phase: st.Phase, Batch: i, Offset: i * l.opts.BatchSize, Rows: len(batch), Attempts: attempts, Err: err}
			l.log.Error("batch failed", "table", be.Table, "phase", be.Phase, "batch", be.Batch, "offset", be.Offset, "rows", be.Rows, "attempts", be.Attempts, "error", err)
			errs = append(errs, be)
			continue
		}
		st.Applied += n
	}
	if len(errs) > 0 {
		st.Error = errs[0].Error()
	}
	return errors.Join(errs...)
}

func (l *Loader) retry(ctx context.Context, fn func(context.Context) (int, error), attempts *int) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.opts.InitialBackoff
	bo.MaxInterval = l.opts.MaxBackoff
	op := func() (int, error) {
		if attempts != nil {
			*attempts++
		}
		n, err := fn(ctx)
		if err != nil && ctx.Err() != nil {
			return 0, backoff.Permanent(ctx.Err())
		}
		return n, err
	}
	return backoff.Retry(ctx, op, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(l.opts.Retries+1)))
}
