// Package pipeline schedules analysis jobs: one per package version, each
// walking fetch → extract → load → build → merge → ingest.
//
// A bounded worker pool runs analysis concurrently while a single consumer
// drains a bounded buffer into the graph store, which is the system's
// backpressure mechanism: when ingestion falls behind, producers suspend at
// the channel send instead of accumulating finished batches in memory.
// Jobs progress independently; one job's failure never cancels another.
package pipeline

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cratemap/cratemap/pkg/callgraph"
	"github.com/cratemap/cratemap/pkg/errors"
	"github.com/cratemap/cratemap/pkg/httputil"
	"github.com/cratemap/cratemap/pkg/ir"
	"github.com/cratemap/cratemap/pkg/merge"
	"github.com/cratemap/cratemap/pkg/observability"
	"github.com/cratemap/cratemap/pkg/registry"
	"github.com/cratemap/cratemap/pkg/store"
)

// Resolver is the registry surface the scheduler needs. Satisfied by
// [registry.Client].
type Resolver interface {
	Resolve(ctx context.Context, name, constraint string, includePre bool) (registry.PackageVersion, error)
	Manifest(ctx context.Context, pv registry.PackageVersion) (*registry.Manifest, error)
}

// Fetcher is the archive surface the scheduler needs. Satisfied by
// [archive.Fetcher].
type Fetcher interface {
	Download(ctx context.Context, pv registry.PackageVersion) (string, error)
	ExtractArchive(pv registry.PackageVersion, archivePath string) (string, error)
}

// Options tunes the scheduler.
type Options struct {
	Concurrency       int           // worker pool size
	RetryCap          int           // retry attempts for Fetching and Ingesting
	RetryDelay        time.Duration // initial backoff, doubles per retry
	BufferSize        int           // analysis-to-ingestion buffer
	DependencyWait    time.Duration // how long Merging waits on dependencies
	SkipPrefixes      []string      // callee namespaces excluded from the graph
	IncludePrerelease bool
	Force             bool // re-ingest package versions already in the store
}

func (o *Options) setDefaults() {
	if o.Concurrency < 1 {
		o.Concurrency = 4
	}
	if o.RetryCap < 1 {
		o.RetryCap = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.BufferSize < 1 {
		o.BufferSize = 16
	}
	if o.DependencyWait <= 0 {
		o.DependencyWait = 2 * time.Minute
	}
	if o.SkipPrefixes == nil {
		o.SkipPrefixes = callgraph.DefaultSkipPrefixes
	}
}

// Runner executes analysis runs. Safe for one Run at a time.
type Runner struct {
	registry Resolver
	fetcher  Fetcher
	store    store.Store
	index    *merge.Index
	logger   *log.Logger
	opts     Options
}

// New creates a runner. A nil logger discards all output.
func New(reg Resolver, fetcher Fetcher, st store.Store, logger *log.Logger, opts Options) *Runner {
	if logger == nil {
		logger = log.New(os.Stderr)
		logger.SetLevel(log.FatalLevel)
	}
	opts.setDefaults()
	return &Runner{
		registry: reg,
		fetcher:  fetcher,
		store:    st,
		index:    merge.NewIndex(),
		logger:   logger,
		opts:     opts,
	}
}

// ingestItem is one finished analysis waiting for the store.
type ingestItem struct {
	job   *Job
	batch *store.Batch
}

// Run analyzes the requested specs and their dependency closure. It
// returns a fatal error only for configuration problems (cycles, store
// unreachable); individual job failures land in the report instead.
func (r *Runner) Run(ctx context.Context, specs []Spec) (*Report, error) {
	runID := uuid.NewString()
	logger := r.logger.With("run", runID)
	started := time.Now()

	if err := r.store.Ping(ctx); err != nil {
		return nil, err
	}
	if err := r.store.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	p, err := r.plan(ctx, specs)
	if err != nil {
		return nil, err
	}
	logger.Info("planned analysis", "jobs", len(p.order))

	items := make(chan ingestItem, r.opts.BufferSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.consume(ctx, logger, items)
	}()

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, job := range p.order {
		if job.State().Terminal() {
			logger.Warn("job rejected during planning", "package", job.Package, "err", job.Reason())
			continue
		}
		job := job
		g.Go(func() error {
			r.analyze(ctx, logger, job, items)
			return nil
		})
	}
	g.Wait()
	close(items)
	<-done

	report := buildReport(runID, started, p.order)
	ingested, failed, skipped := report.Counts()
	logger.Info("run finished",
		"ingested", ingested, "failed", failed, "skipped", skipped,
		"duration", time.Since(started).Round(time.Millisecond))
	observability.Analysis().OnRunComplete(ctx, runID, ingested, failed, skipped, time.Since(started))
	return report, nil
}

// analyze walks one job through the producer stages and hands the finished
// batch to the ingestion consumer. Cancellation is checked at stage
// boundaries; the extracted working directory is always released.
func (r *Runner) analyze(ctx context.Context, logger *log.Logger, job *Job, items chan<- ingestItem) {
	pv := job.Package
	logger = logger.With("package", pv)

	if !r.opts.Force {
		if ok, err := r.store.Has(ctx, pv.Name, pv.Version); err == nil && ok {
			job.skip(errors.New(errors.ErrCodeIngestion, "already ingested"))
			logger.Debug("already ingested, skipping")
			return
		}
	}

	// Fetching: the only producer stage with a retry loop.
	r.step(ctx, job, StateFetching)
	var archivePath string
	err := httputil.Retry(ctx, r.opts.RetryCap, r.opts.RetryDelay, func() error {
		var err error
		archivePath, err = r.fetcher.Download(ctx, pv)
		return err
	})
	if err != nil {
		job.fail(err)
		logger.Error("fetch failed", "err", err)
		return
	}
	if canceled(ctx, job) {
		os.Remove(archivePath)
		return
	}

	r.step(ctx, job, StateExtracting)
	dir, err := r.fetcher.ExtractArchive(pv, archivePath)
	if err != nil {
		job.fail(err)
		logger.Error("extract failed", "err", err)
		return
	}
	defer os.RemoveAll(dir)
	if canceled(ctx, job) {
		return
	}

	r.step(ctx, job, StateLoading)
	modules, err := r.load(dir)
	if err != nil {
		if errors.IsSkip(err) {
			job.skip(err)
			logger.Warn("artifacts unusable, skipping", "err", err)
		} else {
			job.fail(err)
			logger.Error("load failed", "err", err)
		}
		return
	}
	if canceled(ctx, job) {
		return
	}

	r.step(ctx, job, StateBuilding)
	graph := callgraph.NewBuilder(pv.Name, pv.Version).
		WithSkipPrefixes(r.opts.SkipPrefixes).
		Build(modules)
	logger.Debug("built call graph",
		"functions", len(graph.Functions), "edges", len(graph.Edges))

	r.step(ctx, job, StateMerging)
	if err := r.awaitDependencies(ctx, job); err != nil {
		job.fail(err)
		logger.Error("dependency wait failed", "err", err)
		return
	}
	targets := make([]merge.Target, 0, len(job.Dependencies))
	for _, d := range job.Dependencies {
		targets = append(targets, merge.Target{Name: d.Name, Version: d.Resolved})
	}
	resolved := r.index.Resolve(graph, targets)
	logger.Debug("merged cross-package calls", "resolved", resolved)

	batch := &store.Batch{
		Package:      pv.Name,
		Version:      pv.Version,
		Dependencies: job.Dependencies,
		Functions:    graph.Functions,
		Edges:        graph.Edges,
	}

	// Backpressure: a full buffer suspends this producer here.
	select {
	case items <- ingestItem{job: job, batch: batch}:
	case <-ctx.Done():
		job.fail(errors.Wrap(errors.ErrCodeInternal, ctx.Err(), "canceled before ingestion"))
	}
}

// load discovers and parses every IR artifact below dir.
func (r *Runner) load(dir string) ([]*ir.Module, error) {
	paths, err := ir.Discover(dir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "walk extracted tree")
	}
	if len(paths) == 0 {
		return nil, errors.New(errors.ErrCodeUnsupportedIR, "no IR artifacts in archive")
	}
	modules := make([]*ir.Module, 0, len(paths))
	for _, path := range paths {
		m, err := ir.Load(path)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

// awaitDependencies blocks until every dependency is available for merge,
// either published by this run or already present in the store. A
// store-side dependency has its export table read back and published into
// the index, so calls into it resolve exactly as if this run had ingested
// it. The wait polls with doubling backoff up to the configured bound;
// exceeding it fails this job only.
func (r *Runner) awaitDependencies(ctx context.Context, job *Job) error {
	pending := make(map[merge.Target]bool)
	for _, d := range job.Dependencies {
		pending[merge.Target{Name: d.Name, Version: d.Resolved}] = true
	}

	deadline := time.Now().Add(r.opts.DependencyWait)
	delay := 10 * time.Millisecond
	for {
		for t := range pending {
			if r.index.Published(t.Name, t.Version) {
				delete(pending, t)
				continue
			}
			if ok, err := r.store.Has(ctx, t.Name, t.Version); err == nil && ok {
				exports, err := r.store.Exports(ctx, t.Name, t.Version)
				if err != nil {
					continue // next poll retries the read
				}
				r.index.PublishExports(t.Name, t.Version, exports)
				delete(pending, t)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			for t := range pending {
				return errors.New(errors.ErrCodeResolution,
					"dependency %s@%s not ingested within %s", t.Name, t.Version, r.opts.DependencyWait)
			}
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeInternal, ctx.Err(), "canceled waiting for dependencies")
		case <-time.After(delay):
			delay = min(delay*2, 500*time.Millisecond)
		}
	}
}

// consume is the single ingestion loop. Each batch is one atomic store
// transaction; transient failures retry with backoff up to the cap.
func (r *Runner) consume(ctx context.Context, logger *log.Logger, items <-chan ingestItem) {
	for item := range items {
		job := item.job
		r.step(ctx, job, StateIngesting)

		err := httputil.Retry(ctx, r.opts.RetryCap, r.opts.RetryDelay, func() error {
			return httputil.Retryable(r.store.Upsert(ctx, item.batch))
		})
		if err != nil {
			job.fail(err)
			logger.Error("ingestion failed", "package", job.Package, "err", err)
			continue
		}

		// Publication is what unblocks dependents waiting in Merging.
		r.index.Publish(&callgraph.Graph{
			Package:   item.batch.Package,
			Version:   item.batch.Version,
			Functions: item.batch.Functions,
		})
		r.step(ctx, job, StateIngested)
		logger.Info("ingested", "package", job.Package,
			"functions", len(item.batch.Functions), "edges", len(item.batch.Edges))
	}
}

// step advances the job and reports the transition to registered hooks.
func (r *Runner) step(ctx context.Context, job *Job, s State) {
	job.advance(s)
	observability.Analysis().OnStateChange(ctx, job.Package.Name, job.Package.Version, s.String())
}

func canceled(ctx context.Context, job *Job) bool {
	if err := ctx.Err(); err != nil {
		job.fail(errors.Wrap(errors.ErrCodeInternal, err, "canceled"))
		return true
	}
	return false
}
