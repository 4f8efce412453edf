package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"catalograph/internal/artifact"
	"catalograph/internal/derive"
	"catalograph/internal/graph"
	"catalograph/internal/logger"
	"catalograph/internal/normalize"
	"catalograph/internal/util"

	"golang.org/x/sync/errgroup"
)

const OutcomesFile = "derivations.jsonl"

type Options struct {
	InputDir          string
	OutputDir         string
	Concurrency       int
	IdentifierPattern string
	// Kinds restricts the transform to these source kinds when set.
	Kinds []graph.Kind
}

const (
	KindTransformed = "transformed"
	KindFailed      = "failed"
)

// KindReport summarizes one source kind's transform.
type KindReport struct {
	Kind        graph.Kind       `json:"kind"`
	Status      string           `json:"status"`
	Records     int              `json:"records"`
	Rows        int              `json:"rows"`
	Duplicates  int              `json:"duplicates"`
	MissingID   int              `json:"missing_id"`
	Entities    int              `json:"entity_artifacts"`
	Relations   int              `json:"relationship_artifacts"`
	Outcomes    []derive.Outcome `json:"outcomes,omitempty"`
	Error       string           `json:"error,omitempty"`
	DurationSec float64          `json:"duration_sec"`
}

type Report struct {
	Kinds []KindReport `json:"kinds"`
}

// Failed lists the kinds whose transform failed.
func (r *Report) Failed() []graph.Kind {
	var out []graph.Kind
	for _, k := range r.Kinds {
		if k.Status == KindFailed {
			out = append(out, k.Kind)
		}
	}
	return out
}

type Pipeline struct {
	reg    *graph.Registry
	norm   *normalize.Normalizer
	engine *derive.Engine
	opts   Options
	log    *logger.Logger
}

func New(reg *graph.Registry, opts Options, log *logger.Logger) (*Pipeline, error) {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	norm, err := normalize.New(normalize.Options{IdentifierPattern: opts.IdentifierPattern}, log)
	if err != nil {
		return nil, err
	}
	return &Pipeline{reg: reg, norm: norm, engine: derive.Default(reg, log), opts: opts, log: log}, nil
}

func (p *Pipeline) Registry() *graph.Registry { return p.reg }

// Sources lists the raw input directories, filtered by Options.Kinds.
func (p *Pipeline) Sources() ([]artifact.Source, error) {
	srcs, err := artifact.DiscoverSources(p.opts.InputDir)
	if err != nil {
		return nil, err
	}
	if len(p.opts.Kinds) == 0 {
		return srcs, nil
	}
	want := map[graph.Kind]bool{}
	for _, k := range p.opts.Kinds {
		want[k] = true
	}
	out := srcs[:0]
	for _, s := range srcs {
		if want[s.Kind] {
			out = append(out, s)
		}
	}
	return out, nil
}

// TransformSource reads, normalizes and derives one source directory and
// writes its artifacts under OutputDir/<kind>, replacing earlier ones.
func (p *Pipeline) TransformSource(ctx context.Context, src artifact.Source) (artifact.Manifest, KindReport, error) {
	start := time.Now()
	rep := KindReport{Kind: src.Kind, Status: KindFailed}
	log := p.log.With("kind", src.Kind)
	fail := func(err error) (artifact.Manifest, KindReport, error) {
		rep.Error = err.Error()
		rep.DurationSec = time.Since(start).Seconds()
		return artifact.Manifest{}, rep, err
	}

	records, err := artifact.ReadRawDir(ctx, src.Dir)
	if err != nil {
		return fail(err)
	}
	rep.Records = len(records)

	res, err := p.norm.Normalize(src.Kind, string(src.Kind), records)
	if err != nil {
		return fail(err)
	}
	rep.Rows, rep.Duplicates, rep.MissingID = res.Table.Len(), res.Duplicates, res.MissingID

	derived, err := p.engine.Derive(ctx, res.Table)
	if err != nil {
		return fail(err)
	}
	rep.Outcomes = derived.Outcomes

	if err := os.RemoveAll(filepath.Join(p.opts.OutputDir, string(src.Kind))); err != nil {
		return fail(fmt.Errorf("clear artifacts: %w", err))
	}
	m, err := artifact.WriteCollection(p.opts.OutputDir, derived.Source, derived.Collection)
	if err != nil {
		return fail(err)
	}
	rep.Status = KindTransformed
	rep.Entities, rep.Relations = len(m.Entities), len(m.Relationships)
	rep.DurationSec = time.Since(start).Seconds()
	log.Info("kind transformed", "records", rep.Records, "rows", rep.Rows, "duplicates", rep.Duplicates,
		"entity_artifacts", rep.Entities, "relationship_artifacts", rep.Relations, "gaps", len(derived.Gaps()))
	return m, rep, nil
}

// Recoverable reports errors that fail one kind without aborting the run.
func Recoverable(err error) bool {
	var schemaErr *normalize.SchemaError
	return errors.As(err, &schemaErr) || errors.Is(err, util.ErrNoInputFiles)
}

// Transform runs every source kind in parallel. A schema error fails only
// its kind; a configuration error or an integrity defect aborts the run.
func (p *Pipeline) Transform(ctx context.Context) (artifact.Manifest, *Report, error) {
	manifest := artifact.Manifest{Root: p.opts.OutputDir}
	report := &Report{}
	srcs, err := p.Sources()
	if err != nil {
		return manifest, report, err
	}
	if len(srcs) == 0 {
		return manifest, report, fmt.Errorf("%s: %w", p.opts.InputDir, util.ErrNoInputFiles)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for _, src := range srcs {
		g.Go(func() error {
			m, rep, err := p.TransformSource(gctx, src)
			mu.Lock()
			report.Kinds = append(report.Kinds, rep)
			manifest.Merge(m)
			mu.Unlock()
			if err == nil {
				return nil
			}
			if Recoverable(err) {
				p.log.Warn("kind failed", "kind", src.Kind, "error", err)
				return nil
			}
			return fmt.Errorf("transform %s: %w", src.Kind, err)
		})
	}
	if err := g.Wait(); err != nil {
		return manifest, report, err
	}

	sort.Slice(report.Kinds, func(i, j int) bool { return report.Kinds[i].Kind < report.Kinds[j].Kind })
	manifest.Sort()
	if err := WriteReports(manifest, report); err != nil {
		return manifest, report, err
	}
	return manifest, report, nil
}

// WriteReports stores the manifest and one JSON line per derivation outcome.
func WriteReports(m artifact.Manifest, r *Report) error {
	if err := artifact.WriteManifest(m); err != nil {
		return err
	}
	var rows []derive.Outcome
	for _, k := range r.Kinds {
		rows = append(rows, k.Outcomes...)
	}
	return util.WriteJSONLinesAtomic(filepath.Join(m.Root, OutcomesFile), rows)
}
